// Package speedcheck runs a one-shot network speed test against the
// nearest speedtest.net server, generalizing the teacher's
// core.RunSpeedTest into a package the control-plane API can call
// directly and persist through storage.SaveSpeedTest.
package speedcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// Result is one speed test's outcome.
type Result struct {
	DownloadMbps   float64   `json:"download_mbps"`
	UploadMbps     float64   `json:"upload_mbps"`
	PingMS         int64     `json:"ping_ms"`
	ISP            string    `json:"isp"`
	ServerName     string    `json:"server_name"`
	ServerLocation string    `json:"server_location"`
	Timestamp      time.Time `json:"timestamp"`
}

// Run finds the nearest speedtest.net server and measures ping,
// download, and upload throughput against it. ctx bounds the whole
// test; callers typically give it a 30s budget.
func Run(ctx context.Context) (Result, error) {
	user, err := speedtest.FetchUserInfo()
	if err != nil {
		return Result{}, fmt.Errorf("no internet connection: %w", err)
	}

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch servers: %w", err)
	}

	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return Result{}, fmt.Errorf("no speed test servers available")
	}
	server := targets[0]

	if err := server.PingTestContext(ctx, nil); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("speed test timed out")
		}
		return Result{}, fmt.Errorf("ping test failed: %w", err)
	}
	if err := server.DownloadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("speed test timed out during download")
		}
		return Result{}, fmt.Errorf("download test failed: %w", err)
	}
	if err := server.UploadTestContext(ctx); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("speed test timed out during upload")
		}
		return Result{}, fmt.Errorf("upload test failed: %w", err)
	}

	return Result{
		DownloadMbps:   float64(server.DLSpeed) / 1000 / 1000 * 8,
		UploadMbps:     float64(server.ULSpeed) / 1000 / 1000 * 8,
		PingMS:         int64(server.Latency.Milliseconds()),
		ServerName:     server.Name,
		ServerLocation: fmt.Sprintf("%s, %s", server.Name, server.Country),
		ISP:            user.Isp,
		Timestamp:      time.Now(),
	}, nil
}
