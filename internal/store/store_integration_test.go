// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

//go:build integration

package store_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/sokoni/sokoni/internal/session"
	"github.com/sokoni/sokoni/internal/store"
)

var _ = Describe("Migrator and sessions table", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = migrator.Close() })
	})

	It("starts empty and migrates up", func() {
		st, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Version).To(BeZero())
		Expect(st.Pending).NotTo(BeEmpty())

		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Up()).To(Succeed(), "up is idempotent")

		pending, err := migrator.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("sweeps expired sessions through the postgres backend", func() {
		pool, err := store.Connect(suiteCtx, connStr, store.DefaultConnectOptions())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		now := time.Now()
		clock := func() time.Time { return now }
		sessions := session.NewStore(session.NewPostgresBackend(pool),
			session.WithClock(clock),
			session.WithInactivity(time.Hour),
		)

		active, err := sessions.New()
		Expect(err).NotTo(HaveOccurred())
		Expect(active.Set(suiteCtx, "jwt_token", "a")).To(Succeed())
		idle, err := sessions.New()
		Expect(err).NotTo(HaveOccurred())
		Expect(idle.Set(suiteCtx, "jwt_token", "b")).To(Succeed())

		now = now.Add(50 * time.Minute)
		touched, err := sessions.Load(suiteCtx, active.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(touched.IsNew()).To(BeFalse())

		now = now.Add(11 * time.Minute)
		n, err := sessions.DeleteExpired(suiteCtx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		survivor, err := sessions.Load(suiteCtx, active.ID())
		Expect(err).NotTo(HaveOccurred())
		tok, ok, err := session.Get[string](survivor, "jwt_token")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(tok).To(Equal("a"))

		gone, err := sessions.Load(suiteCtx, idle.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(gone.IsNew()).To(BeTrue())

		var raw int
		Expect(pool.QueryRow(suiteCtx,
			`SELECT count(*) FROM sessions WHERE id_hash = $1`, active.ID()).Scan(&raw)).To(Succeed())
		Expect(raw).To(BeZero(), "session ids are stored hashed")
	})

	It("rolls back to an empty schema", func() {
		Expect(migrator.Down()).To(Succeed())
		v, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
		Expect(dirty).To(BeFalse())
	})
})
