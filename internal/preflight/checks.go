package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"asinresolve/internal/cache"
	"asinresolve/internal/sources/fixture"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCache runs the store health check.
func CheckCache(ctx context.Context, store *cache.Store) Result {
	const name = "Lookup cache"
	if store == nil {
		return Result{Name: name, Detail: "cache could not be opened"}
	}
	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", store.Path(), err)}
	}
	if !health.Healthy() {
		detail := health.Error
		switch {
		case detail != "":
		case len(health.MissingColumns) > 0:
			detail = "missing columns: " + strings.Join(health.MissingColumns, ", ")
		case health.SchemaVersion != health.ExpectedVersion:
			detail = fmt.Sprintf("schema version %s, expected %s", health.SchemaVersion, health.ExpectedVersion)
		case !health.TableExists:
			detail = "lookup table missing"
		default:
			detail = "integrity check failed"
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", health.DBPath, detail)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%s, %d entries)", health.DBPath, health.SchemaVersion, health.TotalEntries)}
}

// CheckLegacyCache reports whether a legacy JSON cache is waiting to be
// migrated. A missing file passes.
func CheckLegacyCache(path string) Result {
	const name = "Legacy cache"
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Result{Name: name, Passed: true, Detail: "none found"}
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	case info.IsDir():
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s present; run 'asinresolve cache migrate'", path)}
}

// CheckFixtureSource verifies that a fixture catalog loads.
func CheckFixtureSource(name, path string) Result {
	label := "Source " + name
	src, err := fixture.Load(name, "", path)
	if err != nil {
		return Result{Name: label, Detail: err.Error()}
	}
	return Result{Name: label, Passed: true, Detail: fmt.Sprintf("%s (%d books)", path, src.Len())}
}

// CheckHTTPSource verifies that the endpoint answers. Any response below 500
// counts as reachable since lookups without parameters may be rejected.
func CheckHTTPSource(ctx context.Context, client *http.Client, name, endpoint string) Result {
	label := "Source " + name
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Name: label, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: label, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return Result{Name: label, Detail: fmt.Sprintf("%s (status %d)", endpoint, resp.StatusCode)}
	}
	return Result{Name: label, Passed: true, Detail: fmt.Sprintf("%s (reachable, status %d)", endpoint, resp.StatusCode)}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "endpoint unreachable (timeout)"
	}
	return err.Error()
}
