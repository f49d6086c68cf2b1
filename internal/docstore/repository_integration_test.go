// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sokoni Contributors

//go:build integration

package docstore_test

import (
	"errors"
	"sync"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/sokoni/sokoni/internal/docstore"
)

type account struct {
	ID     string `json:"_id,omitempty"`
	Secret string `json:"secret"`
	Tier   string `json:"tier"`
}

var _ = Describe("Repository", func() {
	var repo *docstore.Repository[account]

	BeforeEach(func() {
		var err error
		collection := "accounts_" + ulid.Make().String()
		repo, err = docstore.New[account](suiteCtx, pool, "it_docstore", collection)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.CreateUniqueIndex(suiteCtx, "secret")).To(Succeed())
	})

	It("round-trips a document with its id", func() {
		id, err := repo.Create(suiteCtx, account{Secret: "s1", Tier: "free"})
		Expect(err).NotTo(HaveOccurred())

		got, err := repo.GetByID(suiteCtx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(&account{ID: id, Secret: "s1", Tier: "free"}))

		found, err := repo.FindOne(suiteCtx, docstore.Filter{"secret": "s1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(id))

		missing, err := repo.FindOne(suiteCtx, docstore.Filter{"secret": "nope"})
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeNil())
	})

	It("reports whether an update changed anything", func() {
		id, err := repo.Create(suiteCtx, account{Secret: "s2", Tier: "free"})
		Expect(err).NotTo(HaveOccurred())

		modified, err := repo.UpdateByID(suiteCtx, id, docstore.Fields{"tier": "gold"})
		Expect(err).NotTo(HaveOccurred())
		Expect(modified).To(BeTrue())

		modified, err = repo.UpdateByID(suiteCtx, id, docstore.Fields{"tier": "gold"})
		Expect(err).NotTo(HaveOccurred())
		Expect(modified).To(BeFalse())

		got, err := repo.GetByID(suiteCtx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Tier).To(Equal("gold"))
		Expect(got.ID).To(Equal(id))
	})

	It("deletes once", func() {
		id, err := repo.Create(suiteCtx, account{Secret: "s3"})
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.DeleteByID(suiteCtx, id)).To(BeTrue())
		Expect(repo.DeleteByID(suiteCtx, id)).To(BeFalse())
	})

	It("treats index creation as idempotent", func() {
		Expect(repo.CreateUniqueIndex(suiteCtx, "secret")).To(Succeed())
	})

	It("lets exactly one concurrent duplicate insert win", func() {
		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := repo.Create(suiteCtx, account{Secret: "contended"})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				var pgErr *pgconn.PgError
				Expect(errors.As(err, &pgErr)).To(BeTrue())
				Expect(pgErr.Code).To(Equal(pgerrcode.UniqueViolation))
				dupes++
			}()
		}
		wg.Wait()

		Expect(successes).To(Equal(1))
		Expect(dupes).To(Equal(writers - 1))
	})

	Context("with nested values", func() {
		var docs *docstore.Repository[map[string]any]

		BeforeEach(func() {
			var err error
			docs, err = docstore.New[map[string]any](suiteCtx, pool, "it_docstore", "nested_"+ulid.Make().String())
			Expect(err).NotTo(HaveOccurred())
		})

		It("replaces a nested object even when the old one contains the new one", func() {
			id, err := docs.Create(suiteCtx, map[string]any{"o": map[string]any{"x": 1, "y": 2}})
			Expect(err).NotTo(HaveOccurred())

			modified, err := docs.UpdateByID(suiteCtx, id, docstore.Fields{"o": map[string]any{"x": 1}})
			Expect(err).NotTo(HaveOccurred())
			Expect(modified).To(BeTrue())

			got, err := docs.GetByID(suiteCtx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect((*got)["o"]).To(Equal(map[string]any{"x": float64(1)}))
		})

		It("replaces arrays that are subsets or reorderings", func() {
			id, err := docs.Create(suiteCtx, map[string]any{"tags": []string{"a", "b"}})
			Expect(err).NotTo(HaveOccurred())

			modified, err := docs.UpdateByID(suiteCtx, id, docstore.Fields{"tags": []string{"b", "a"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(modified).To(BeTrue())

			modified, err = docs.UpdateByID(suiteCtx, id, docstore.Fields{"tags": []string{"a"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(modified).To(BeTrue())

			modified, err = docs.UpdateByID(suiteCtx, id, docstore.Fields{"tags": []string{"a"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(modified).To(BeFalse())
		})

		It("matches arrays by equality, not containment", func() {
			_, err := docs.Create(suiteCtx, map[string]any{"tags": []string{"a", "b"}})
			Expect(err).NotTo(HaveOccurred())

			found, err := docs.FindOne(suiteCtx, docstore.Filter{"tags": []string{"a"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeNil())

			found, err = docs.FindOne(suiteCtx, docstore.Filter{"tags": []string{"a", "b"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).NotTo(BeNil())
		})

		It("does not match a string filter against a number", func() {
			_, err := docs.Create(suiteCtx, map[string]any{"n": 5})
			Expect(err).NotTo(HaveOccurred())

			found, err := docs.FindOne(suiteCtx, docstore.Filter{"n": "5"})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeNil())
		})
	})
})
