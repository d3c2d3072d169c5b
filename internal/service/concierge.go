// README: Concierge orchestrates one conversational turn: hygiene, extraction, state, search, persistence.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roam/internal/ai"
	"roam/internal/metrics"
	"roam/internal/modules/aiusage"
	"roam/internal/modules/extraction"
	"roam/internal/modules/intent"
	"roam/internal/modules/inventory"
	"roam/internal/modules/pricing"
	"roam/internal/modules/prompt"
	"roam/internal/modules/query"
	"roam/internal/modules/relax"
	"roam/internal/modules/session"
	"roam/internal/modules/tools"
	"roam/internal/modules/validate"
	"roam/internal/types"
)

const (
	DefaultHistoryLimit = 12
	nearbyTimeout       = 2 * time.Second
)

type Config struct {
	MaxMessageRunes int
	HistoryLimit    int
	AuxParallelism  int
	// Location decides what "today" is for date validation.
	Location *time.Location
}

// Meter charges one model-backed turn to a caller.
type Meter interface {
	UseTurn(ctx context.Context, key string) error
}

// Deps are the concierge's collaborators. Extractor, Inventory, Pricing, Usage, History and Metrics may be nil.
type Deps struct {
	Sessions  session.Store
	History   session.History
	Machine   *session.Machine
	Detector  *intent.Detector
	Composer  *query.Composer
	Inventory relax.Inventory
	Registry  *tools.Registry
	Assembler *prompt.Assembler
	Extractor ai.Extractor
	Pricing   *pricing.Service
	Usage     Meter
	Metrics   *metrics.Metrics
	Log       *zap.Logger
	Now       func() time.Time
}

type Concierge struct {
	sessions  session.Store
	history   session.History
	machine   *session.Machine
	detector  *intent.Detector
	composer  *query.Composer
	inventory relax.Inventory
	registry  *tools.Registry
	assembler *prompt.Assembler
	extractor ai.Extractor
	pricing   *pricing.Service
	usage     Meter
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
	cfg       Config
}

func NewConcierge(d Deps, cfg Config) *Concierge {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.History == nil {
		d.History = session.NewMemoryLog()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Concierge{
		sessions:  d.Sessions,
		history:   d.History,
		machine:   d.Machine,
		detector:  d.Detector,
		composer:  d.Composer,
		inventory: d.Inventory,
		registry:  d.Registry,
		assembler: d.Assembler,
		extractor: d.Extractor,
		pricing:   d.Pricing,
		usage:     d.Usage,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		cfg:       cfg,
	}
}

// plan is the extracted intent of one message, independent of the session it lands on.
type plan struct {
	result    extraction.Result
	fields    session.Fields
	action    session.Action
	mode      session.Mode
	reply     string
	search    bool
	malformed bool
	degraded  bool
}

// outcome is a plan applied to a session.
type outcome struct {
	sess     session.BookingSession
	state    session.State
	search   *tools.SearchOutcome
	quote    *pricing.Quote
	rejected error
}

// HandleTurn processes one user message. A *validate.ValidationError for the message itself
// is returned as an error; every other recoverable problem is reported in-band.
func (c *Concierge) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	started := c.now()
	checked, err := validate.CheckMessage(req.Message, c.cfg.MaxMessageRunes)
	if err != nil {
		c.metrics.Turn("", "rejected", c.now().Sub(started))
		return TurnResponse{}, err
	}
	for _, f := range checked.Flags {
		c.metrics.SecurityFlag(string(f.Kind))
	}

	sess, err := c.load(ctx, req.SessionID, started)
	if err != nil {
		return TurnResponse{}, err
	}
	log := c.log.With(zap.String("conversation_id", sess.ID.String()))
	if checked.Flagged() {
		log.Warn("message flagged", zap.Any("flags", checked.Flags))
	}

	today := types.DateOf(started.In(c.cfg.Location))
	detected := c.detector.Detect(checked.Text)
	history := c.recent(ctx, log, sess.ID)

	ws := tools.NewWorkspace(c.workspacePrior(sess, detected))
	ws.SetRiskInput(riskInput(req.Caller, sess, history, checked.Flags, 0))

	p := c.extract(ctx, log, sess, req, checked, detected, history, ws, today)

	var out outcome
	if p.malformed {
		out = outcome{sess: sess, state: sess.State}
	} else {
		out, err = c.applyAndSave(ctx, sess, p, req, ws, today)
		if err != nil {
			c.metrics.Turn(string(sess.State), "error", c.now().Sub(started))
			return TurnResponse{}, err
		}
	}

	resp := c.respond(out, p, checked.Flags)
	c.appendMessages(ctx, log, sess, out.state, checked, resp.Reply)

	result := "ok"
	switch {
	case p.malformed:
		result = "malformed"
	case out.rejected != nil:
		result = "rejected"
	case resp.Fallback != nil && resp.Fallback.NoAvailability:
		result = "no_results"
	case p.degraded || resp.Error != nil:
		result = "degraded"
	}
	c.metrics.Turn(string(out.state), result, c.now().Sub(started))
	log.Info("turn handled",
		zap.String("state", string(out.state)),
		zap.String("action", string(resp.Action)),
		zap.Int("cards", len(resp.Cards)),
		zap.String("result", result))
	return resp, nil
}

// Session returns the stored session.
func (c *Concierge) Session(ctx context.Context, id types.ID) (session.BookingSession, error) {
	return c.sessions.Load(ctx, id)
}

// Restart resets a conversation to INIT, keeping its ID.
func (c *Concierge) Restart(ctx context.Context, id types.ID) (session.BookingSession, error) {
	for attempt := 0; ; attempt++ {
		sess, err := c.load(ctx, id, c.now())
		if err != nil {
			return session.BookingSession{}, err
		}
		fresh, _, err := c.machine.ApplyTurn(ctx, sess, session.Turn{Action: session.ActionStartOver, Now: c.now()})
		if err != nil {
			return session.BookingSession{}, err
		}
		saved, err := c.sessions.Save(ctx, fresh)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, session.ErrConflict) || attempt > 0 {
			return session.BookingSession{}, err
		}
		c.metrics.Conflict()
	}
}

func (c *Concierge) load(ctx context.Context, id types.ID, now time.Time) (session.BookingSession, error) {
	if id == "" {
		return session.New(types.NewID(), now), nil
	}
	s, err := c.sessions.Load(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(id, now), nil
	}
	if err != nil {
		return session.BookingSession{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return s, nil
}

func (c *Concierge) recent(ctx context.Context, log *zap.Logger, id types.ID) []session.Message {
	msgs, err := c.history.Recent(ctx, id, c.cfg.HistoryLimit)
	if err != nil {
		log.Warn("load message history failed", zap.Error(err))
		return nil
	}
	return msgs
}

// workspacePrior is what tools see before the model answers: the session's filters with this
// message's detected intents backfilled, anchored to the session's location and dates.
func (c *Concierge) workspacePrior(s session.BookingSession, detected intent.DetectedIntents) query.SearchQuery {
	return extraction.DetectorOnly(detected, s.Filters).Filters.
		WithLocation(s.Location).
		WithDates(s.StartDate, s.EndDate)
}

func (c *Concierge) extract(ctx context.Context, log *zap.Logger, sess session.BookingSession, req TurnRequest,
	checked validate.CheckedMessage, detected intent.DetectedIntents, history []session.Message,
	ws *tools.Workspace, today types.Date) plan {
	if c.extractor == nil || c.assembler == nil {
		return plan{result: extraction.DetectorOnly(detected, sess.Filters), degraded: true}
	}
	if c.usage != nil {
		if err := c.usage.UseTurn(ctx, usageKey(req.Caller, sess.ID)); errors.Is(err, aiusage.ErrExhausted) {
			log.Info("model allowance exhausted, using detector only")
			c.metrics.ExtractionFailed("quota")
			return plan{result: extraction.DetectorOnly(detected, sess.Filters), degraded: true}
		} else if err != nil {
			log.Warn("usage metering failed", zap.Error(err))
		}
	}

	nearby, weather, reviews := c.prefetch(ctx, log, sess, ws)
	static := c.assembler.Static(ctx, sess.ID)
	dynamic := c.assembler.Dynamic(prompt.DynamicInput{
		Session:  sess,
		Caller:   req.Caller,
		Today:    today,
		Locale:   req.Locale,
		Detected: detected.Names(),
		Nearby:   nearby,
		Weather:  weather,
		Reviews:  reviews,
		Flags:    checked.Flags,
	})

	ext, err := c.extractor.Extract(ctx, ai.ExtractRequest{
		ConversationID: sess.ID,
		Static:         static,
		Dynamic:        dynamic,
		History:        history,
		Message:        checked.Text,
		Workspace:      ws,
	})
	if err != nil {
		log.Warn("extractor unavailable, using detector only", zap.Error(err))
		c.metrics.ExtractionFailed("unavailable")
		return plan{result: extraction.DetectorOnly(detected, sess.Filters), degraded: true}
	}
	c.assembler.RememberHandle(ctx, sess.ID, static, ext.Handle)

	res, err := extraction.Run(ext.Raw, detected, sess.Filters)
	if err != nil {
		log.Warn("extractor output rejected", zap.Error(err))
		c.metrics.ExtractionFailed("malformed")
		return plan{malformed: true}
	}
	return planFrom(res, log)
}

// usageKey charges signed-in callers by account and everyone else by conversation.
func usageKey(caller session.Caller, id types.ID) string {
	if caller.LoggedIn && caller.Email != "" {
		return "email:" + strings.ToLower(caller.Email)
	}
	return "conversation:" + id.String()
}

func planFrom(res extraction.Result, log *zap.Logger) plan {
	cand := res.Candidate
	p := plan{result: res, reply: strings.TrimSpace(cand.Reply), search: cand.Search}
	// Action and mode passed schema validation; parse errors cannot occur here.
	p.action, _ = session.ParseAction(cand.Action)
	if m, err := session.ParseMode(cand.Mode); err == nil {
		p.mode = m
	} else {
		log.Debug("ignoring mode", zap.String("mode", cand.Mode))
	}

	d := cand.Data
	p.fields = session.Fields{
		Location:          res.Turn.Location,
		StartDate:         res.Turn.StartDate,
		EndDate:           res.Turn.EndDate,
		StartTime:         d.StartTime,
		EndTime:           d.EndTime,
		VehicleCategory:   res.Turn.Category,
		SelectedVehicleID: types.ID(strings.TrimSpace(d.SelectedVehicleID)),
	}
	if d.DurationDays != nil {
		p.fields.DurationDays = *d.DurationDays
	}
	if d.Confirmed != nil {
		p.fields.Confirmed = types.Some(*d.Confirmed)
	}
	return p
}

// prefetch gathers the dynamic tier's lookups concurrently. Failures only shrink the context.
func (c *Concierge) prefetch(ctx context.Context, log *zap.Logger, s session.BookingSession, ws *tools.Workspace) (
	[]inventory.VehicleSummary, *tools.Forecast, *inventory.ReviewSummary) {
	var (
		nearby  []inventory.VehicleSummary
		weather *tools.Forecast
		reviews *inventory.ReviewSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.inventory != nil && c.composer != nil && s.Location != "" && s.HasDates() {
		g.Go(func() error {
			set, err := c.composer.Compose(s.Query().Minimal())
			if err != nil {
				return nil
			}
			set.Limit = prompt.MaxNearby
			qctx, cancel := context.WithTimeout(gctx, nearbyTimeout)
			defer cancel()
			list, err := c.inventory.Query(qctx, set)
			if err != nil {
				log.Info("nearby inventory omitted", zap.Error(err))
				return nil
			}
			nearby = list
			return nil
		})
	}
	if c.registry != nil {
		var calls []tools.Call
		if s.Location != "" && s.HasDates() && c.registry.Has(tools.WeatherToolName) {
			calls = append(calls, tools.Call{Tool: tools.WeatherToolName})
		}
		if s.SelectedVehicleID != "" && c.registry.Has(tools.ReviewsToolName) {
			calls = append(calls, tools.Call{Tool: tools.ReviewsToolName, Args: map[string]any{"vehicleId": s.SelectedVehicleID.String()}})
		}
		if len(calls) > 0 {
			g.Go(func() error {
				for _, res := range c.registry.RunAux(gctx, ws, c.cfg.AuxParallelism, calls...) {
					switch v := res.(type) {
					case tools.Forecast:
						weather = &v
					case inventory.ReviewSummary:
						reviews = &v
					}
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	return nearby, weather, reviews
}

// applyAndSave applies p to the stored session and saves it. On a version conflict the plan
// is re-applied once to the fresh session; a second conflict is returned as session.ErrConflict.
func (c *Concierge) applyAndSave(ctx context.Context, base session.BookingSession, p plan, req TurnRequest,
	ws *tools.Workspace, today types.Date) (outcome, error) {
	for attempt := 0; ; attempt++ {
		out, err := c.apply(ctx, base, p, req, ws, today)
		if err != nil || out.rejected != nil {
			return out, err
		}
		saved, err := c.sessions.Save(ctx, out.sess)
		if err == nil {
			out.sess = saved
			return out, nil
		}
		if !errors.Is(err, session.ErrConflict) {
			return outcome{}, fmt.Errorf("save session %s: %w", base.ID, err)
		}
		c.metrics.Conflict()
		if attempt > 0 {
			return outcome{}, session.ErrConflict
		}
		if base, err = c.load(ctx, base.ID, c.now()); err != nil {
			return outcome{}, err
		}
	}
}

func (c *Concierge) apply(ctx context.Context, base session.BookingSession, p plan, req TurnRequest,
	ws *tools.Workspace, today types.Date) (outcome, error) {
	filters := query.Merge(base.Filters.Clear(p.result.Cleared...), anchorless(p.result.Turn))
	turn := session.Turn{
		Fields:  p.fields,
		Filters: &filters,
		Mode:    p.mode,
		Action:  p.action,
		Caller:  req.Caller,
		Today:   today,
		Now:     c.now(),
	}
	next, state, err := c.machine.ApplyTurn(ctx, base, turn)
	if err != nil {
		if validate.IsValidation(err) || errors.Is(err, session.ErrInvalidTransition) {
			return outcome{sess: base, state: base.State, rejected: err}, nil
		}
		return outcome{}, err
	}
	out := outcome{sess: next, state: state}

	if c.registry != nil {
		// A budget the model computed but never searched with is searched now.
		ws.SetPrior(next.Query())
		if err := c.registry.Finalize(ctx, ws); err != nil && !errors.Is(err, tools.ErrSearchUnavailable) {
			c.log.Warn("budget search failed", zap.String("conversation_id", base.ID.String()), zap.Error(err))
		}
	}
	if c.shouldSearch(next, p, ws) {
		so, err := c.registry.EnsureSearch(ctx, ws, next.Query())
		if err == nil || errors.Is(err, tools.ErrSearchUnavailable) {
			out.search = &so
		} else {
			c.log.Warn("search skipped", zap.String("conversation_id", base.ID.String()), zap.Error(err))
		}
	}
	if v, ok := ws.Budget().Get(); ok {
		out.sess.Filters.PriceMax = types.Some(v)
	}

	out.quote = c.quote(ctx, next)

	if state == session.StateReadyForPayment && c.registry != nil && c.registry.Has(tools.RiskToolName) {
		rate := c.dailyRate(next.SelectedVehicleID, out.search)
		if out.quote != nil {
			rate = out.quote.DailyRate
		}
		ws.SetRiskInput(riskInput(req.Caller, next, nil, nil, rate))
		res, err := c.registry.Call(ctx, ws, tools.RiskToolName, nil)
		if a, ok := res.(tools.RiskAssessment); err == nil && ok && a.HighRisk {
			c.log.Warn("booking flagged for review",
				zap.String("conversation_id", base.ID.String()), zap.Float64("score", a.Score), zap.Strings("reasons", a.Reasons))
			turn.Action = session.ActionFlagHighRisk
			flagged, fstate, err := c.machine.ApplyTurn(ctx, base, turn)
			if err != nil {
				return outcome{}, err
			}
			flagged.Filters = out.sess.Filters
			out.sess, out.state = flagged, fstate
		}
	}
	return out, nil
}

// quote prices the selected vehicle once the renter is deciding or paying. Failures only omit it.
func (c *Concierge) quote(ctx context.Context, s session.BookingSession) *pricing.Quote {
	if c.pricing == nil || s.SelectedVehicleID == "" || !s.HasDates() {
		return nil
	}
	switch s.State {
	case session.StateConfirming, session.StateReadyForPayment, session.StateNeedsLogin,
		session.StateNeedsVerification, session.StateNeedsEmailOTP:
	default:
		return nil
	}
	q, err := c.pricing.Estimate(ctx, s.SelectedVehicleID, s.StartDate, s.EndDate)
	if err != nil {
		c.log.Info("quote omitted", zap.String("vehicle_id", s.SelectedVehicleID.String()), zap.Error(err))
		return nil
	}
	return &q
}

func (c *Concierge) shouldSearch(s session.BookingSession, p plan, ws *tools.Workspace) bool {
	if c.registry == nil || !c.registry.Has(tools.SearchToolName) || s.Location == "" || !s.HasDates() {
		return false
	}
	if p.search || p.action == session.ActionShowVehicles || ws.LastSearch() != nil {
		return true
	}
	return s.State == session.StateCollectingVehicle
}

func (c *Concierge) dailyRate(id types.ID, so *tools.SearchOutcome) float64 {
	if id == "" || so == nil {
		return 0
	}
	for _, v := range so.Result.Vehicles {
		if v.ID == id {
			return v.DailyRate
		}
	}
	return 0
}

func (c *Concierge) respond(out outcome, p plan, flags []validate.SecurityFlag) TurnResponse {
	s := out.sess
	resp := TurnResponse{
		SessionID:     s.ID,
		NextState:     out.state,
		ExtractedData: extractedData(s),
		SearchQuery:   s.Query(),
		Mode:          s.Mode,
		Quote:         out.quote,
		Flags:         flags,
	}

	var zr *relax.ZeroResultError
	if so := out.search; so != nil {
		resp.SearchQuery = so.Query
		resp.Cards = []inventory.VehicleSummary{}
		switch {
		case so.Err == nil:
			if len(so.Result.Vehicles) > 0 {
				resp.Cards = so.Result.Vehicles
			}
			c.metrics.Fallback(so.Result.Level)
			if so.Result.Relaxed() {
				resp.Fallback = &Fallback{Level: so.Result.Level, Explanation: so.Result.Explanation}
			}
		case errors.As(so.Err, &zr):
			c.metrics.NoAvailability()
			resp.Fallback = &Fallback{Level: relax.LevelMinimal, Explanation: zr.Explanation, NoAvailability: true}
		case errors.Is(so.Err, tools.ErrSearchUnavailable):
			resp.Error = &TurnError{Code: CodeSearchUnavailable, Retryable: true}
		}
	}

	resp.Action = responseAction(out.state, p.action, len(resp.Cards) > 0)
	resp.Reply = p.reply

	switch {
	case p.malformed:
		resp.Reply = clarifyReply
		resp.Error = &TurnError{Code: CodeExtraction, Retryable: true}
	case out.rejected != nil:
		resp.Reply = rejectionReply(out.rejected)
		code := CodeInvalidInput
		if errors.Is(out.rejected, session.ErrInvalidTransition) {
			code = CodeInvalidTransition
		}
		resp.Error = &TurnError{Code: code, Message: out.rejected.Error()}
	case zr != nil:
		resp.Reply = noAvailabilityReply(zr)
	case resp.Error != nil && resp.Error.Code == CodeSearchUnavailable:
		resp.Reply = searchUnavailableReply
	case resp.Reply == "" || resp.Action != p.action && gated(out.state):
		resp.Reply = stateReply(s, out.state, len(resp.Cards), out.quote)
	}
	if resp.Fallback != nil && !resp.Fallback.NoAvailability && !strings.Contains(resp.Reply, resp.Fallback.Explanation) {
		resp.Reply = strings.TrimSpace(resp.Reply + " " + relaxedNote(resp.Fallback.Explanation))
	}
	return resp
}

// responseAction derives the handoff instruction from the state so the rendering layer never
// sees an action the state machine did not sanction.
func responseAction(state session.State, proposed session.Action, hasCards bool) session.Action {
	switch state {
	case session.StateNeedsLogin:
		return session.ActionRequireLogin
	case session.StateNeedsVerification:
		return session.ActionRequireVerification
	case session.StateNeedsEmailOTP:
		return session.ActionRequireEmailOTP
	case session.StateHighRiskReview:
		return session.ActionFlagHighRisk
	case session.StateReadyForPayment:
		return session.ActionProceedToPayment
	}
	switch {
	case proposed == session.ActionStartOver && state == session.StateInit:
		return session.ActionStartOver
	case hasCards:
		return session.ActionShowVehicles
	}
	return session.ActionNone
}

func gated(s session.State) bool {
	switch s {
	case session.StateNeedsLogin, session.StateNeedsVerification, session.StateNeedsEmailOTP,
		session.StateHighRiskReview, session.StateReadyForPayment:
		return true
	}
	return false
}

func (c *Concierge) appendMessages(ctx context.Context, log *zap.Logger, prev session.BookingSession, state session.State,
	checked validate.CheckedMessage, reply string) {
	now := c.now()
	msgs := []session.Message{
		{ConversationID: prev.ID, Role: session.RoleUser, Content: checked.Text, Flags: checked.Flags, State: prev.State, CreatedAt: now},
		{ConversationID: prev.ID, Role: session.RoleAssistant, Content: reply, State: state, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, m := range msgs {
		if err := c.history.Append(ctx, m); err != nil {
			log.Warn("append message failed", zap.String("role", string(m.Role)), zap.Error(err))
		}
	}
}

func anchorless(q query.SearchQuery) query.SearchQuery {
	return q.WithLocation("").WithDates(types.Date{}, types.Date{})
}

func riskInput(caller session.Caller, s session.BookingSession, history []session.Message,
	flags []validate.SecurityFlag, dailyRate float64) tools.RiskInput {
	n := len(flags)
	for _, m := range history {
		n += len(m.Flags)
	}
	days := 0
	if s.HasDates() {
		days = s.StartDate.DaysUntil(s.EndDate)
	}
	return tools.RiskInput{
		LoggedIn:      caller.LoggedIn,
		Verified:      caller.Verified,
		Email:         caller.Email,
		DailyRate:     dailyRate,
		Days:          days,
		SecurityFlags: n,
	}
}
