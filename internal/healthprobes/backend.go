package healthprobes

import (
	"context"
	"net/http"
)

// Backend reports whether the Node.js backend answered GET
// {baseURL}/api/health with a 2xx status.
func Backend(ctx context.Context, baseURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := Client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
