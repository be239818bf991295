// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

//go:build integration

package cogs_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/cogbot/cogbot/internal/cog"
)

const counter = `
cog.command("tick", "Count", function(ctx)
  return "v1 " .. cog.kv_incr("n")
end)
`

var _ = Describe("Cog lifecycle over the websocket transport", func() {
	var env *testEnv

	AfterEach(func() {
		if env != nil {
			env.stop()
		}
	})

	Describe("built-in cogs", func() {
		BeforeEach(func() {
			env = startEnv(false, nil)
		})

		It("answers ping and lists the loaded cogs to admins", func() {
			user := env.dial("alice")
			Expect(user.send("/ping").Text).To(ContainSubstring("Pong"))

			denied := user.send("/list_cogs")
			Expect(denied.OK).To(BeFalse())

			admin := env.dial("root")
			listing := admin.send("/list_cogs")
			Expect(listing.OK).To(BeTrue())
			Expect(listing.Text).To(ContainSubstring("general"))
		})

		It("unloads and reloads a cog on request", func() {
			admin := env.dial("root")
			Expect(admin.send("/unload example").OK).To(BeTrue())
			Expect(admin.send("/hello").Text).To(HavePrefix(cog.FailurePrefix))

			Expect(admin.send("/load example").OK).To(BeTrue())
			Expect(admin.send("/hello Bo").Text).To(Equal("Hello, Bo! 👋"))
		})

		It("refuses to unload the admin cog", func() {
			admin := env.dial("root")
			reply := admin.send("/unload admin")
			Expect(reply.OK).To(BeFalse())
			Expect(env.bot.Registry().Has("admin")).To(BeTrue())
		})
	})

	Describe("Lua cogs", func() {
		BeforeEach(func() {
			env = startEnv(true, func(dir string) { writeCog(dir, "counter", counter) })
		})

		It("hot reloads an edited script and resets its state", func() {
			user := env.dial("alice")
			Expect(user.send("/tick").Text).To(Equal("v1 1"))
			Expect(user.send("/tick").Text).To(Equal("v1 2"))

			writeCog(env.cfg.Cogs.Dir, "counter", `cog.command("tick", function() return "v2 " .. cog.kv_incr("n") end)`)
			Eventually(func() string { return user.send("/tick").Text }, 5*time.Second, 50*time.Millisecond).
				Should(HavePrefix("v2 "))
		})

		It("keeps serving the old version when an edit does not compile", func() {
			user := env.dial("alice")
			admin := env.dial("root")
			Expect(user.send("/tick").Text).To(Equal("v1 1"))

			writeCog(env.cfg.Cogs.Dir, "counter", `cog.command("tick",`)
			Expect(admin.send("/reload counter").OK).To(BeFalse())
			Expect(user.send("/tick").Text).To(Equal("v1 2"))
		})

		It("never fails a dispatch while the cog reloads concurrently", func() {
			admin := env.dial("root")
			clients := []*client{env.dial("ann"), env.dial("bob"), env.dial("cat"), env.dial("dan")}
			var wg sync.WaitGroup
			for _, c := range clients {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					for range 25 {
						Expect(c.send("/tick").OK).To(BeTrue())
					}
				}()
			}
			for range 10 {
				Expect(admin.send("/reload counter").OK).To(BeTrue())
			}
			wg.Wait()
		})
	})
})
