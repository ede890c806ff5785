/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package hk_test

import (
	"testing"

	"github.com/nasarace/race-go/hk"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
