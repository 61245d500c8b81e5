package models

import "time"

const (
	ActionMonitorEnable  = "monitor_enable"
	ActionMonitorDisable = "monitor_disable"
	ActionMonitorCleanup = "monitor_cleanup"
)

type MonitorEvent struct {
	ID        int64     `json:"id"`
	Ifname    string    `json:"ifname"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}
