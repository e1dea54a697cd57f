package main

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"lansend/models"
	"lansend/transfers"
)

// progressView draws one bar per in-progress transfer.
type progressView struct {
	out  io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newProgressView(out io.Writer) *progressView {
	return &progressView{
		out:  out,
		bars: make(map[string]*progressbar.ProgressBar),
	}
}

func (v *progressView) run(events <-chan transfers.Event) {
	for event := range events {
		v.apply(event)
	}
	for id, bar := range v.bars {
		_ = bar.Exit()
		delete(v.bars, id)
	}
}

func (v *progressView) apply(event transfers.Event) {
	transfer := event.Transfer
	if event.Type == transfers.EventTransferForgotten {
		v.drop(transfer.ID)
		return
	}

	switch transfer.Status {
	case models.TransferPending:
		fmt.Fprintf(v.out, "Incoming transfer %s from %s: %d file(s), %d bytes\n",
			transfer.ID, transfer.SourceDevice, len(transfer.Files), transfer.TotalSize)
	case models.TransferInProgress:
		bar := v.bar(transfer)
		_ = bar.Set64(transferredBytes(transfer))
	case models.TransferCompleted:
		if bar, ok := v.bars[transfer.ID]; ok {
			_ = bar.Finish()
			delete(v.bars, transfer.ID)
		}
		fmt.Fprintf(v.out, "Transfer %s completed\n", transfer.ID)
	case models.TransferFailed:
		v.drop(transfer.ID)
		fmt.Fprintf(v.out, "Transfer %s failed: %s\n", transfer.ID, transfer.Error)
	}
}

func (v *progressView) bar(transfer models.Transfer) *progressbar.ProgressBar {
	if bar, ok := v.bars[transfer.ID]; ok {
		return bar
	}

	total := transfer.TotalSize
	showBytes := true
	if total <= 0 {
		total = 100
		showBytes = false
	}

	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(v.out),
		progressbar.OptionSetDescription(fmt.Sprintf("Transfer %s", transfer.ID)),
		progressbar.OptionSetWidth(15),
		progressbar.OptionShowBytes(showBytes),
		progressbar.OptionThrottle(time.Second),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "|",
			BarEnd:        "|",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(v.out, "\n")
		}),
	)
	v.bars[transfer.ID] = bar
	return bar
}

func (v *progressView) drop(id string) {
	if bar, ok := v.bars[id]; ok {
		_ = bar.Exit()
		delete(v.bars, id)
	}
}

// transferredBytes maps ledger progress back onto the bar's scale.
func transferredBytes(transfer models.Transfer) int64 {
	if transfer.TotalSize <= 0 {
		return int64(transfer.Progress)
	}
	return int64(transfer.Progress / 100 * float64(transfer.TotalSize))
}
