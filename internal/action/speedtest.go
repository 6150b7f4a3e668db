package action

import (
	"context"
	"errors"
	"fmt"
	"sort"

	st "github.com/showwin/speedtest-go/speedtest"

	"pulse/internal/config"
)

// SpeedResult is the recorded outcome of a speedtest run.
type SpeedResult struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
	PingMS       int64   `json:"ping_ms"`
	Server       string  `json:"server"`
}

type speedtestAction struct {
	serverID string
}

func (a *speedtestAction) Kind() string { return config.ActionSpeedtest }

// Run tests against the configured server, or the nearest available one.
// A failed upload leg is a warning; the download figure is still recorded.
func (a *speedtestAction) Run(ctx context.Context, w Warner) (any, error) {
	client := st.New()
	defer client.Reset()

	server, err := a.pick(ctx, client)
	if err != nil {
		return nil, err
	}
	if err := server.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("speedtest ping: %w", err)
	}
	if err := server.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("speedtest download: %w", err)
	}
	res := SpeedResult{
		DownloadMbps: server.DLSpeed.Mbps(),
		PingMS:       server.Latency.Milliseconds(),
		Server:       fmt.Sprintf("%s (%s)", server.Sponsor, server.Country),
	}
	if err := server.UploadTestContext(ctx); err != nil {
		warn(w, "upload test failed: "+err.Error())
	} else {
		res.UploadMbps = server.ULSpeed.Mbps()
	}
	return res, nil
}

func (a *speedtestAction) pick(ctx context.Context, client *st.Speedtest) (*st.Server, error) {
	if a.serverID != "" {
		s, err := client.FetchServerByIDContext(ctx, a.serverID)
		if err != nil {
			return nil, fmt.Errorf("speedtest server %s: %w", a.serverID, err)
		}
		return s, nil
	}
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("speedtest server list: %w", err)
	}
	if av := servers.Available(); av != nil {
		servers = *av
	}
	if len(servers) == 0 {
		return nil, errors.New("speedtest: no servers available")
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	return servers[0], nil
}
