package health

import "context"

type Status struct {
	Healthy     bool              `json:"healthy"`
	ServerName  string            `json:"server_name"`
	UptimeSecs  int64             `json:"uptime_secs"`
	Database    bool              `json:"database"`
	BotCount    int               `json:"bot_count"`
	OnlineBots  int               `json:"online_bots"`
	WorkerStats map[string]string `json:"worker_stats,omitempty"`
}

type IHealthUsecase interface {
	Check(ctx context.Context) (Status, error)
}
