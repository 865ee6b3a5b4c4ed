package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

var (
	multi    *pterm.MultiPrinter
	spinners = make(map[int]*pterm.SpinnerPrinter)
	mu       sync.Mutex
)

func StartUISystem() {
	m, _ := pterm.DefaultMultiPrinter.Start()
	multi = m
}

func StopUISystem() {
	if multi != nil {
		multi.Stop()
	}
}

func UpdateStatus(session model.Session, status string, remainingDelay time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	if multi == nil {
		return
	}

	delayStr := FormatDelay(remainingDelay)
	checkInStatus := defaultString(session.CheckInStatus, "WAITING")
	lastCheckIn := defaultString(session.LastCheckIn, "-")
	lastMessage := defaultString(session.LastMessage, "-")
	total := session.Quota + session.UsedQuota

	content := fmt.Sprintf(`
=============== Account %s ================
Provider      : %s

Daily CheckIn : %s
Last CheckIn  : %s
Last Result   : %s

Balance       :
- Remaining %.2f
- Used      %.2f
- Total     %.2f

Status   : %s
Delay    : %s
===========================================`,
		defaultString(session.AccountName, fmt.Sprintf("%d", session.AccIdx+1)),
		defaultString(session.ProviderName, "-"),
		checkInStatus,
		lastCheckIn,
		lastMessage,
		session.Quota,
		session.UsedQuota,
		total,
		status,
		delayStr)

	if spinner, ok := spinners[session.AccIdx]; ok {
		spinner.UpdateText(content)
	} else {
		spinner, _ := pterm.DefaultSpinner.
			WithWriter(multi.NewWriter()).
			WithRemoveWhenDone(false).
			Start(content)
		spinners[session.AccIdx] = spinner
	}
}

func SetSpinnerSuccess(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.AccIdx]; ok {
		spinner.UpdateText(finalMessage)
		spinner.Success()
	}
}

func SetSpinnerError(session model.Session, finalMessage string) {
	mu.Lock()
	defer mu.Unlock()
	if spinner, ok := spinners[session.AccIdx]; ok {
		spinner.UpdateText(finalMessage)
		spinner.Fail()
	}
}

func FormatDelay(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d H %02d M %02d S", h, m, s)
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
