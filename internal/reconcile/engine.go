package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"

	"github.com/credops/credops/internal/logging"
	"github.com/credops/credops/internal/model"
	"github.com/credops/credops/internal/store"
)

const (
	// staleThreshold drives the long_time_no_login and long_time_password
	// risks.
	staleThreshold = 90 * 24 * time.Hour

	defaultBatchSize = 100
)

// AccountSource is the slice of the account store the engine needs.
type AccountSource interface {
	ByAssets(ctx context.Context, assetIDs []string) (map[string][]*model.Account, error)
	Create(ctx context.Context, account *model.Account, secret string) error
}

// Engine reconciles gather output. One Engine serves many runs; per-run
// state lives on Run.
type Engine struct {
	accounts  AccountSource
	gathered  *store.GatheredAccountStore
	risks     *store.RiskStore
	logger    *logging.Logger
	clock     clock.Clock
	batchSize int

	// riskCounter, when set, is invoked once per detection with the risk
	// kind. Used for metrics.
	riskCounter func(kind string)
}

// WithRiskCounter installs a per-detection hook.
func (e *Engine) WithRiskCounter(fn func(kind string)) *Engine {
	e.riskCounter = fn
	return e
}

func NewEngine(accounts AccountSource, gathered *store.GatheredAccountStore, risks *store.RiskStore, logger *logging.Logger, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Engine{
		accounts:  accounts,
		gathered:  gathered,
		risks:     risks,
		logger:    logger,
		clock:     clk,
		batchSize: defaultBatchSize,
	}
}

// Stats counts one run's reconciliation outcomes.
type Stats struct {
	NewFound  int
	Lost      int
	Risks     int
	Confirmed int
}

// Run holds per-execution reconciliation state: the risk rows for the run's
// assets are preloaded in one batch so the per-account loop never queries
// per row.
type Run struct {
	engine   *Engine
	orgID    string
	autoSync bool

	localByAsset map[string][]*model.Account
	riskIndex    map[string]*model.AccountRisk

	rows       []*model.GatheredAccount
	detections []store.Detection
	stats      Stats
}

// Begin preloads system-of-record accounts and existing risk rows for the
// run's asset set.
func (e *Engine) Begin(ctx context.Context, orgID string, assetIDs []string, autoSync bool) (*Run, error) {
	localByAsset, err := e.accounts.ByAssets(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to preload accounts: %w", err)
	}

	risks, err := e.risks.ByAssets(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to preload risks: %w", err)
	}
	riskIndex := make(map[string]*model.AccountRisk, len(risks))
	for _, risk := range risks {
		riskIndex[riskKey(risk.AssetID, risk.Username, risk.Risk)] = risk
	}

	return &Run{
		engine:       e,
		orgID:        orgID,
		autoSync:     autoSync,
		localByAsset: localByAsset,
		riskIndex:    riskIndex,
	}, nil
}

func riskKey(assetID, username string, kind model.RiskKind) string {
	return assetID + "|" + username + "|" + string(kind)
}

// Stats returns the counters accumulated so far.
func (r *Run) Stats() Stats {
	return r.stats
}

// Asset reconciles one asset's observations against the three username sets:
// remote-observed, system-of-record and previously-gathered. The batch is
// flushed at end of asset; a flush failure is logged and does not stop later
// assets.
func (r *Run) Asset(ctx context.Context, assetID string, observations []Observation) {
	byUsername := make(map[string]Observation, len(observations))
	remote := set.NewStrings()
	for _, obs := range observations {
		remote.Add(obs.Username)
		byUsername[obs.Username] = obs
	}

	local := set.NewStrings()
	for _, account := range r.localByAsset[assetID] {
		local.Add(account.Username)
	}

	previousRows, err := r.engine.gathered.ByAsset(ctx, assetID)
	if err != nil {
		r.engine.logger.Error("failed to load gathered state for asset %s: %v", assetID, err)
		return
	}
	previous := set.NewStrings()
	for username := range previousRows {
		previous.Add(username)
	}

	now := r.engine.clock.Now()

	// Newly observed accounts.
	for _, username := range remote.Difference(previous).SortedValues() {
		obs := byUsername[username]
		row := &model.GatheredAccount{
			OrgID:         r.orgID,
			AssetID:       assetID,
			Username:      username,
			PresentRemote: true,
			PresentLocal:  local.Contains(username),
			Status:        model.GatherStatusPending,
		}
		if row.PresentLocal || r.autoSync {
			row.Status = model.GatherStatusConfirmed
		}
		applyObservation(row, obs)

		if !local.Contains(username) {
			r.raise(assetID, username, model.RiskNewFound, map[string]string{
				"detail": "account observed on asset but not in system of record",
			}, now)
			if r.autoSync {
				r.promote(ctx, assetID, username)
			}
		}

		r.stats.NewFound++
		r.save(ctx, row)
	}

	// Previously gathered accounts no longer observed.
	for _, username := range previous.Difference(remote).SortedValues() {
		row := previousRows[username]
		if !row.PresentRemote {
			// Already known lost; no transition, no new risk.
			continue
		}
		row.PresentRemote = false
		if row.Status != model.GatherStatusIgnored {
			row.Status = model.GatherStatusPending
		}
		r.raise(assetID, username, model.RiskAccountDeleted, map[string]string{
			"detail": "previously gathered account no longer present on asset",
		}, now)
		r.stats.Lost++
		r.save(ctx, row)
	}

	// Accounts present both remotely and in prior gathers.
	for _, username := range remote.Intersection(previous).SortedValues() {
		row := previousRows[username]
		obs := byUsername[username]

		if !row.PresentRemote {
			row.PresentRemote = true
		}
		row.PresentLocal = local.Contains(username)

		r.diffFields(assetID, username, row, obs, now)
		applyObservation(row, obs)

		// Ignored is terminal unless an operator resets it.
		if row.Status != model.GatherStatusIgnored {
			if local.Contains(username) {
				if row.Status != model.GatherStatusConfirmed {
					r.stats.Confirmed++
				}
				row.Status = model.GatherStatusConfirmed
			} else {
				row.Status = model.GatherStatusPending
			}
		}

		r.save(ctx, row)
	}

	// Threshold risks apply to every remotely observed account.
	for _, obs := range observations {
		r.thresholdRisks(assetID, obs, now)
	}

	r.flush(ctx)
}

// diffFields compares the stored detail blob against the fresh observation.
// Risk fields emit a <field>_changed risk with a textual diff; everything
// else is silently updated for the audit trail.
func (r *Run) diffFields(assetID, username string, row *model.GatheredAccount, obs Observation, now time.Time) {
	if row.Status == model.GatherStatusIgnored {
		return
	}

	old := row.DetailFields()
	for _, field := range riskFields {
		oldValue, hadOld := old[field]
		newValue, hasNew := obs.Detail[field]
		if !hadOld || !hasNew || oldValue == newValue {
			continue
		}
		var kind model.RiskKind
		switch field {
		case DetailAuthorizedKeys:
			kind = model.RiskAuthorizedKeyChanged
		case DetailSudoers:
			kind = model.RiskSudoersChanged
		default:
			kind = model.RiskGroupsChanged
		}
		r.raise(assetID, username, kind, map[string]string{
			"field": field,
			"old":   oldValue,
			"new":   newValue,
		}, now)
	}
}

func (r *Run) thresholdRisks(assetID string, obs Observation, now time.Time) {
	if obs.LastLogin != nil && now.Sub(*obs.LastLogin) > staleThreshold {
		r.raise(assetID, obs.Username, model.RiskLongTimeNoLogin, map[string]string{
			"last_login": obs.LastLogin.UTC().Format(time.RFC3339),
		}, now)
	}
	if obs.PasswordChangedAt != nil && now.Sub(*obs.PasswordChangedAt) > staleThreshold {
		r.raise(assetID, obs.Username, model.RiskLongTimePassword, map[string]string{
			"password_changed_at": obs.PasswordChangedAt.UTC().Format(time.RFC3339),
		}, now)
	}
	if obs.PasswordExpiresAt != nil && obs.PasswordExpiresAt.Before(now) {
		r.raise(assetID, obs.Username, model.RiskPasswordExpired, map[string]string{
			"password_expired_at": obs.PasswordExpiresAt.UTC().Format(time.RFC3339),
		}, now)
	}
}

// raise queues one risk detection. An existing (asset, username, kind) row
// gets the snapshot appended; otherwise a new pending row is queued.
func (r *Run) raise(assetID, username string, kind model.RiskKind, detail map[string]string, now time.Time) {
	key := riskKey(assetID, username, kind)
	risk, ok := r.riskIndex[key]
	if !ok {
		risk = &model.AccountRisk{
			OrgID:    r.orgID,
			AssetID:  assetID,
			Username: username,
			Risk:     kind,
		}
		r.riskIndex[key] = risk
	}
	r.detections = append(r.detections, store.Detection{
		Risk:     risk,
		Snapshot: model.RiskSnapshot{DetectedAt: now, Detail: detail},
	})
	r.stats.Risks++
	if r.engine.riskCounter != nil {
		r.engine.riskCounter(string(kind))
	}
}

// promote creates a managed account for a discovered username under the
// auto-sync flag. The account starts without a secret.
func (r *Run) promote(ctx context.Context, assetID, username string) {
	account := &model.Account{
		OrgID:      r.orgID,
		Name:       username,
		AssetID:    assetID,
		Username:   username,
		SecretType: model.SecretTypePassword,
		Source:     "discovered",
	}
	if err := r.engine.accounts.Create(ctx, account, ""); err != nil {
		r.engine.logger.Error("auto-sync failed to create account %s on asset %s: %v", username, assetID, err)
		return
	}
	r.localByAsset[assetID] = append(r.localByAsset[assetID], account)
}

func (r *Run) save(ctx context.Context, row *model.GatheredAccount) {
	r.rows = append(r.rows, row)
	if len(r.rows) >= r.engine.batchSize || len(r.detections) >= r.engine.batchSize {
		r.flush(ctx)
	}
}

// flush persists the queued rows and detections. Failures are logged and the
// queues cleared so subsequent assets still process.
func (r *Run) flush(ctx context.Context) {
	if len(r.rows) > 0 {
		if err := r.engine.gathered.SaveBatch(ctx, r.rows); err != nil {
			r.engine.logger.Error("failed to flush gathered accounts: %v", err)
		}
		r.rows = r.rows[:0]
	}
	if len(r.detections) > 0 {
		if err := r.engine.risks.RecordBatch(ctx, r.detections); err != nil {
			r.engine.logger.Error("failed to flush risk detections: %v", err)
		}
		r.detections = r.detections[:0]
	}
}

func applyObservation(row *model.GatheredAccount, obs Observation) {
	row.AddressLastLogin = obs.LastLoginAddress
	row.DateLastLogin = obs.LastLogin
	row.DatePasswordChange = obs.PasswordChangedAt
	row.DatePasswordExpired = obs.PasswordExpiresAt
	if len(obs.Detail) > 0 {
		row.SetDetailFields(obs.Detail)
	}
}
