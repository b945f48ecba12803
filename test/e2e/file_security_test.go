package e2e

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"edit-text-server/test/testutil"
)

func TestE2E_FileSecurity(t *testing.T) {
	ts := testutil.Setup(t, nil)
	client := ts.NewHTTPClient(ts.LoginAdmin(t))

	outside := filepath.Join(filepath.Dir(ts.Root), "outside-"+filepath.Base(ts.Root)+".txt")
	t.Cleanup(func() { os.Remove(outside) })

	for _, name := range []string{
		"../" + filepath.Base(outside),
		"a/../../" + filepath.Base(outside),
		"..",
		"",
	} {
		t.Run("get "+name, func(t *testing.T) {
			if code := getJSON(t, client, ts.EditURL(name), nil); code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
		})
		t.Run("post "+name, func(t *testing.T) {
			if code, _ := postContent(t, client, ts.EditURL(name), "pwned"); code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
		})
	}

	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Fatalf("file written outside the root: %v", err)
	}

	t.Run("absolute names stay under the root", func(t *testing.T) {
		code, view := postContent(t, client, ts.EditURL("/etc/edited.txt"), "inside")
		if code != http.StatusOK || view.Outcome != "saved" {
			t.Fatalf("unexpected result code=%d view=%+v", code, view)
		}
		if got := ts.ReadFile(t, "etc/edited.txt"); got != "inside" {
			t.Fatalf("unexpected content %q", got)
		}
	})

	t.Run("listing skips symlinks and directories", func(t *testing.T) {
		ts.WriteFile(t, "real.txt", "r")
		if err := os.Symlink("/etc/hostname", filepath.Join(ts.Root, "link.txt")); err != nil {
			t.Fatalf("symlink: %v", err)
		}
		if err := os.MkdirAll(filepath.Join(ts.Root, "emptydir"), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}

		var list listView
		if code := getJSON(t, client, ts.URL("/"), &list); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		for _, f := range list.Files {
			if f.Name == "link.txt" || f.Name == "emptydir" {
				t.Fatalf("unexpected entry %q", f.Name)
			}
		}
	})
}
