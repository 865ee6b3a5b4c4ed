package model

import "math"

// QuotaPerUnit converts provider-reported raw quota bytes into the
// currency-like display unit. Must stay in sync with upstream billing.
const QuotaPerUnit = 500000

type UserInfo struct {
	Quota     float64 `json:"quota"`
	UsedQuota float64 `json:"used_quota"`
}

// Total is always derived, never stored.
func (u UserInfo) Total() float64 {
	return u.Quota + u.UsedQuota
}

func QuotaToUnit(rawQuota float64) float64 {
	return math.Round(rawQuota/QuotaPerUnit*100) / 100
}
