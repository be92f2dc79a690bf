package publisher

import "testing"

func TestSiteFilenameReplacesDots(t *testing.T) {
	got := SiteFilename("www.example.com")
	want := "www_example_com.txt"
	if got != want {
		t.Errorf("SiteFilename(%q) = %q, want %q", "www.example.com", got, want)
	}
}

func TestSiteFilenameEmptyHostname(t *testing.T) {
	if got := SiteFilename(""); got != "unknown_site.txt" {
		t.Errorf("SiteFilename(\"\") = %q, want %q", got, "unknown_site.txt")
	}
}

func TestNewEmbedsTokenIntoRepoURL(t *testing.T) {
	p := New(Options{RepoURL: "https://github.com/acme/repo.git", Token: "tok123"}, nil)
	want := "https://tok123@github.com/acme/repo.git"
	if p.opts.RepoURL != want {
		t.Errorf("RepoURL = %q, want %q", p.opts.RepoURL, want)
	}
}

func TestNewDoesNotDoubleEmbedToken(t *testing.T) {
	p := New(Options{RepoURL: "https://existing@github.com/acme/repo.git", Token: "tok123"}, nil)
	want := "https://existing@github.com/acme/repo.git"
	if p.opts.RepoURL != want {
		t.Errorf("RepoURL = %q, want %q (should not re-embed when userinfo already present)", p.opts.RepoURL, want)
	}
}

func TestNewDefaultsBranch(t *testing.T) {
	p := New(Options{RepoURL: "https://github.com/acme/repo.git"}, nil)
	if p.opts.Branch != "main" {
		t.Errorf("Branch = %q, want %q", p.opts.Branch, "main")
	}
}
