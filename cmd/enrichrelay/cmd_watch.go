package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"EnrichmentRelay/internal/client"
	"EnrichmentRelay/internal/config"
	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/infrastructure/ssetransport"
	"EnrichmentRelay/internal/logging"
)

var watchFlags struct {
	relay   string
	handle  string
	owner   string
	retries int
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to the relay and print every state change",
	RunE:  runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringVar(&watchFlags.relay, "relay", "", "relay base URL (default from config)")
	f.StringVar(&watchFlags.handle, "handle", "", "subject handle to enrich")
	f.StringVar(&watchFlags.owner, "owner", "", "owner id receiving the results")
	f.IntVar(&watchFlags.retries, "max-retries", 0, "reconnect attempts after consecutive drops (default from config)")
	_ = watchCmd.MarkFlagRequired("handle")
	_ = watchCmd.MarkFlagRequired("owner")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	relayURL := watchFlags.relay
	if relayURL == "" {
		relayURL = cfg.Client.RelayURL
	}
	retries := watchFlags.retries
	if retries <= 0 {
		retries = cfg.Client.MaxRetries
	}

	sub := client.New(client.Options{
		Transport:  ssetransport.New(relayURL, nil),
		Logger:     logger.With("component", "subscription"),
		MaxRetries: retries,
		OnPhaseError: func(perr domain.PhaseError) {
			fmt.Fprintf(cmd.ErrOrStderr(), "phase %s failed: %s\n", perr.Phase, perr.Message)
		},
	})
	defer sub.Close()

	if err := sub.Subscribe(client.Target{Subject: watchFlags.handle, OwnerID: watchFlags.owner}); err != nil {
		return err
	}

	ctx := cmd.Context()
	var version uint64
	for {
		st, err := sub.Wait(ctx, version)
		if err != nil {
			return nil
		}
		version = st.Version
		if err := printState(cmd.OutOrStdout(), st); err != nil {
			return err
		}
		switch st.Status {
		case domain.StatusDone:
			return nil
		case domain.StatusError:
			return errors.New(st.LastError)
		}
	}
}

type stateView struct {
	Status     domain.SessionStatus  `json:"status"`
	Progress   int                   `json:"progress"`
	RetryCount int                   `json:"retryCount"`
	LastError  string                `json:"lastError,omitempty"`
	Profile    *domain.ProfileFields `json:"profile,omitempty"`
	Metrics    *domain.MetricsFields `json:"metrics,omitempty"`
	AI         *domain.AIFields      `json:"ai,omitempty"`
}

func printState(w io.Writer, st domain.SubscriptionState) error {
	return json.NewEncoder(w).Encode(stateView{
		Status:     st.Status,
		Progress:   st.Progress,
		RetryCount: st.RetryCount,
		LastError:  st.LastError,
		Profile:    st.Profile,
		Metrics:    st.Metrics,
		AI:         st.AI,
	})
}
