// services/metrics.go
package services

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics counts engine outcomes. Names are prefixed with "coinflip.".
type Metrics struct {
	Registry gometrics.Registry

	GamesCreated   gometrics.Counter
	GamesJoined    gometrics.Counter
	GamesRevealed  gometrics.Counter
	GamesWon       gometrics.Counter
	Forfeits       gometrics.Counter // dishonest reveals and timeouts
	GamesCleaned   gometrics.Counter
	Rejected       gometrics.Counter
	PotsPaid       gometrics.Counter // smallest units queued to winners
	OperationTimer gometrics.Timer
}

func NewMetrics(r gometrics.Registry) *Metrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &Metrics{
		Registry:       r,
		GamesCreated:   gometrics.GetOrRegisterCounter("coinflip.games.created", r),
		GamesJoined:    gometrics.GetOrRegisterCounter("coinflip.games.joined", r),
		GamesRevealed:  gometrics.GetOrRegisterCounter("coinflip.games.revealed", r),
		GamesWon:       gometrics.GetOrRegisterCounter("coinflip.games.won", r),
		Forfeits:       gometrics.GetOrRegisterCounter("coinflip.games.forfeited", r),
		GamesCleaned:   gometrics.GetOrRegisterCounter("coinflip.games.cleaned", r),
		Rejected:       gometrics.GetOrRegisterCounter("coinflip.calls.rejected", r),
		PotsPaid:       gometrics.GetOrRegisterCounter("coinflip.pots.paid", r),
		OperationTimer: gometrics.GetOrRegisterTimer("coinflip.calls.duration", r),
	}
}
