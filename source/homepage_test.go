package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"aipulse/config"
)

func newTestHomepage(t *testing.T, handler http.HandlerFunc, maxArticles int) (*httptest.Server, *HomepageFetcher) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewHomepage(config.SourceConfig{
		Name:           "therundown",
		Type:           config.TypeHomepage,
		URL:            srv.URL,
		MaxArticles:    maxArticles,
		DefaultAuthor:  "Zach Mink",
		DefaultSummary: "Daily AI briefing from The Rundown AI.",
		Tags:           []string{"AI", "Newsletter", "Daily Briefing"},
	}, srv.Client(), "test-agent")
	f.pause = 0
	return srv, f
}

func TestHomepageFetch(t *testing.T) {
	homepage := `<html><body>
<a href="/p/article-one">Deep Dive Into The Model</a>
<h2>Massive New Model Drops Today<a href="/p/article-two"></a></h2>
<a href="/p/short">nope</a>
<a href="/about">About Us Page Here</a>
</body></html>`

	articlePage := `<html><head>
<meta property="article:published_time" content="2024-06-01T08:00:00Z">
<meta property="og:description" content="A deep dive into the release.">
<meta property="og:image" content="https://cdn.example.com/img.png">
</head><body><p>body text</p></body></html>`

	srv, f := newTestHomepage(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, homepage)
		case "/p/article-one":
			fmt.Fprint(w, articlePage)
		case "/p/article-two":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, 10)

	candidates, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	one := candidates[0]
	if one.Link != srv.URL+"/p/article-one" {
		t.Errorf("Link = %q", one.Link)
	}
	if one.Title != "Deep Dive Into The Model" {
		t.Errorf("Title = %q", one.Title)
	}
	if one.PublishedRaw != "2024-06-01T08:00:00Z" {
		t.Errorf("PublishedRaw = %q, want the article:published_time content", one.PublishedRaw)
	}
	if one.Summary != "A deep dive into the release." {
		t.Errorf("Summary = %q, want og:description content", one.Summary)
	}
	if one.ImageURL != "https://cdn.example.com/img.png" {
		t.Errorf("ImageURL = %q, want og:image content", one.ImageURL)
	}

	// Second article's page failed to load, so defaults survive and the
	// title came from the enclosing heading.
	two := candidates[1]
	if two.Title != "Massive New Model Drops Today" {
		t.Errorf("Title = %q, want heading text", two.Title)
	}
	if two.Summary != "Daily AI briefing from The Rundown AI." {
		t.Errorf("Summary = %q, want the source default", two.Summary)
	}
	if two.Author != "Zach Mink" {
		t.Errorf("Author = %q, want default author", two.Author)
	}
	if two.PublishedRaw != "" || !two.Published.IsZero() {
		t.Error("candidate without metadata must carry no publish time")
	}
}

func TestHomepageFetch_MaxArticlesCap(t *testing.T) {
	_, f := newTestHomepage(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, "<html><body>")
			for i := 0; i < 5; i++ {
				fmt.Fprintf(w, `<a href="/p/post-%d">Post Number %d With Long Title</a>`, i, i)
			}
			fmt.Fprint(w, "</body></html>")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, 2)

	candidates, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("expected cap of 2 candidates, got %d", len(candidates))
	}
}

func TestHomepageFetch_DescriptionMetaFallback(t *testing.T) {
	articlePage := `<html><head>
<meta name="description" content="Plain description meta.">
</head><body></body></html>`

	_, f := newTestHomepage(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body><a href="/p/one">A Perfectly Fine Title</a></body></html>`)
		default:
			fmt.Fprint(w, articlePage)
		}
	}, 10)

	candidates, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Summary != "Plain description meta." {
		t.Errorf("Summary = %q, want description meta fallback", candidates[0].Summary)
	}
}

func TestHomepageFetch_HomepageDown(t *testing.T) {
	_, f := newTestHomepage(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 10)

	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error when the homepage is unreachable")
	}
}
