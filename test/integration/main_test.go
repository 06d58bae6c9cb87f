package integration

import (
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

// BaseURL is the running API under test, e.g. http://localhost:8080.
var BaseURL = os.Getenv("API_BASE_URL")

func TestMain(m *testing.M) {
	if BaseURL == "" {
		fmt.Println("API_BASE_URL not set, skipping integration tests")
		os.Exit(0)
	}

	// 等待服务启动
	if err := waitForHealth(30 * time.Second); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func waitForHealth(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(BaseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("service at %s not healthy after %s", BaseURL, timeout)
}
