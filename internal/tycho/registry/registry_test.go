package registry

import (
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	tychoerrors "github.com/stevencox/tycho/internal/errors"
)

var _ = Describe("resolveContext", func() {
	It("overlays a child context's apps onto its extended base by app id", func() {
		doc := document{
			Contexts: map[string]contextDoc{
				"base": {
					Apps: map[string]AppMeta{
						"jupyter": {Name: "Jupyter (base)"},
						"rstudio": {Name: "RStudio"},
					},
				},
				"product": {
					Extends: []string{"base"},
					Apps: map[string]AppMeta{
						"jupyter": {Name: "Jupyter (overridden)"},
					},
				},
			},
		}

		resolved, err := resolveContext(doc, "product", map[string]bool{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved).To(HaveLen(2))
		Expect(resolved["jupyter"].Name).To(Equal("Jupyter (overridden)"))
		Expect(resolved["rstudio"].Name).To(Equal("RStudio"))
	})

	It("resolves multi-level extends depth-first", func() {
		doc := document{
			Contexts: map[string]contextDoc{
				"grandparent": {Apps: map[string]AppMeta{"a": {Name: "A"}}},
				"parent":      {Extends: []string{"grandparent"}, Apps: map[string]AppMeta{"b": {Name: "B"}}},
				"product":     {Extends: []string{"parent"}, Apps: map[string]AppMeta{"c": {Name: "C"}}},
			},
		}

		resolved, err := resolveContext(doc, "product", map[string]bool{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resolved).To(HaveKey("a"))
		Expect(resolved).To(HaveKey("b"))
		Expect(resolved).To(HaveKey("c"))
	})

	It("fails with ContextNotFound for an unknown product", func() {
		_, err := resolveContext(document{Contexts: map[string]contextDoc{}}, "missing", map[string]bool{})
		Expect(err).To(HaveOccurred())
		Expect(err.(*tychoerrors.AppError).Kind).To(Equal(tychoerrors.ContextNotFound))
	})

	It("fails with BaseNotFound for a dangling extends reference", func() {
		doc := document{Contexts: map[string]contextDoc{
			"product": {Extends: []string{"ghost"}},
		}}
		_, err := resolveContext(doc, "product", map[string]bool{})
		Expect(err).To(HaveOccurred())
		Expect(err.(*tychoerrors.AppError).Kind).To(Equal(tychoerrors.BaseNotFound))
	})

	It("detects a cyclic extends chain", func() {
		doc := document{Contexts: map[string]contextDoc{
			"a": {Extends: []string{"b"}},
			"b": {Extends: []string{"a"}},
		}}
		_, err := resolveContext(doc, "a", map[string]bool{})
		Expect(err).To(HaveOccurred())
		Expect(err.(*tychoerrors.AppError).Kind).To(Equal(tychoerrors.BaseNotFound))
	})
})

var _ = Describe("expandRepoVars", func() {
	It("synthesizes spec and icon from the first repository when unset", func() {
		app := &AppMeta{ID: "jupyter"}
		expandRepoVars(app, map[string]string{"main": "https://github.com/org/repo"})
		Expect(app.Spec).To(Equal("https://github.com/org/repo/jupyter/docker-compose.yaml"))
		Expect(app.Icon).To(Equal("https://github.com/org/repo/jupyter/icon.png"))
	})

	It("substitutes repo variables in an explicit spec", func() {
		app := &AppMeta{ID: "jupyter", Spec: "${main}/custom/compose.yaml"}
		expandRepoVars(app, map[string]string{"main": "https://repo.example.com"})
		Expect(app.Spec).To(Equal("https://repo.example.com/custom/compose.yaml"))
	})
})

var _ = Describe("Registry", func() {
	var reg *Registry

	BeforeEach(func() {
		doc := document{
			Repositories: []repository{{ID: "main", URL: "https://repo.example.com"}},
			Contexts: map[string]contextDoc{
				"common": {
					Apps: map[string]AppMeta{
						"jupyter": {
							ResourceRequest: map[string]string{"cpus": "2"},
							SecurityContext: map[string]int64{"runAsUser": 1000},
						},
					},
				},
			},
		}
		var err error
		reg, err = compile(doc, Options{Product: "common"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("GetApp returns a resolved AppMeta for a known app", func() {
		app, err := reg.GetApp("jupyter")
		Expect(err).NotTo(HaveOccurred())
		Expect(app.ResourceRequest["cpus"]).To(Equal("2"))
	})

	It("GetApp fails with AppNotAuthorized for an unknown app", func() {
		_, err := reg.GetApp("nope")
		Expect(err).To(HaveOccurred())
		Expect(err.(*tychoerrors.AppError).Kind).To(Equal(tychoerrors.AppNotAuthorized))
	})

	It("FetchSpec fetches over HTTP and caches the result", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Write([]byte("services:\n  jupyter:\n    image: jupyter/base\n"))
		}))
		defer srv.Close()

		doc := document{
			Contexts: map[string]contextDoc{
				"common": {Apps: map[string]AppMeta{"jupyter": {Spec: srv.URL + "/compose.yaml"}}},
			},
		}
		r, err := compile(doc, Options{Product: "common"})
		Expect(err).NotTo(HaveOccurred())

		text1, err := r.FetchSpec(context.Background(), "jupyter")
		Expect(err).NotTo(HaveOccurred())
		Expect(text1).To(ContainSubstring("jupyter/base"))

		text2, err := r.FetchSpec(context.Background(), "jupyter")
		Expect(err).NotTo(HaveOccurred())
		Expect(text2).To(Equal(text1))
		Expect(hits).To(Equal(1), "second FetchSpec should be served from the primary cache")
	})

	It("FetchEnv returns empty, not an error, when no settings file exists", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		doc := document{
			Contexts: map[string]contextDoc{
				"common": {Apps: map[string]AppMeta{"jupyter": {Spec: srv.URL + "/dir/compose.yaml"}}},
			},
		}
		r, err := compile(doc, Options{Product: "common"})
		Expect(err).NotTo(HaveOccurred())

		text, err := r.FetchEnv(context.Background(), "jupyter")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal(""))
	})
})
