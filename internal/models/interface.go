package models

// Field widths of the fixed-size interface attributes.
const (
	MaxNameLen       = 31
	MaxHWAddrLen     = 31
	MaxInetAddrLen   = 31
	MaxInet6AddrLen  = 63
	MaxMaskLen       = 31
	MaxRateStringLen = 31
)

type InterfaceInfo struct {
	Name       string `json:"name"`
	HWAddr     string `json:"hwaddr"`
	InetAddr   string `json:"inet_addr"`
	Inet6Addr  string `json:"inet6_addr"`
	Mask       string `json:"mask"`
	IsUp       bool   `json:"is_up"`
	Monitoring bool   `json:"monitoring"`
}

// TrafficDirection holds the counters of one direction of a live sample.
type TrafficDirection struct {
	RateString       string `json:"ratestring"`
	BytesPerSecond   int64  `json:"bytespersecond"`
	PacketsPerSecond int64  `json:"packetspersecond"`
	Bytes            int64  `json:"bytes"`
	Packets          int64  `json:"packets"`
	TotalBytes       int64  `json:"totalbytes"`
	TotalPackets     int64  `json:"totalpackets"`
}

// StatsSample is one line of live sampler output.
type StatsSample struct {
	Index   int64            `json:"index"`
	Seconds int64            `json:"seconds"`
	RX      TrafficDirection `json:"rx"`
	TX      TrafficDirection `json:"tx"`
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
