// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

//go:build integration

package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestDocstore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Docstore Integration Suite")
}

var (
	suiteCtx  context.Context
	pool      *pgxpool.Pool
	container testcontainers.Container
)

var _ = BeforeSuite(func() {
	suiteCtx = context.Background()

	pg, err := postgres.Run(suiteCtx,
		"postgres:18-alpine",
		postgres.WithDatabase("sokoni_test"),
		postgres.WithUsername("sokoni"),
		postgres.WithPassword("sokoni"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	container = pg

	connStr, err := pg.ConnectionString(suiteCtx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	pool, err = pgxpool.New(suiteCtx, connStr)
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		_ = container.Terminate(suiteCtx)
	}
})
