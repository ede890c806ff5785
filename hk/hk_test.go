/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package hk_test

import (
	"time"

	"github.com/nasarace/race-go/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	It("re-arms a callback using its returned interval", func() {
		fired := make(chan struct{}, 8)
		hk.Reg("probe.hk", func() time.Duration {
			fired <- struct{}{}
			return 10 * time.Millisecond
		}, 0)
		defer hk.Unreg("probe.hk")

		var n int
		for n < 3 {
			Eventually(fired, time.Second).Should(Receive())
			n++
		}
	})

	It("stops firing once unregistered", func() {
		fired := make(chan struct{}, 8)
		hk.Reg("probe2.hk", func() time.Duration {
			fired <- struct{}{}
			return 10 * time.Millisecond
		}, 0)
		Eventually(fired, time.Second).Should(Receive())
		hk.Unreg("probe2.hk")

		// drain anything already in flight, then assert silence
		for {
			select {
			case <-fired:
				continue
			case <-time.After(50 * time.Millisecond):
				goto done
			}
		}
	done:
		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})
})
