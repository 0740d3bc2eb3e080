package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/tradeguard-api/internal/auth"
	"github.com/ksred/tradeguard-api/internal/breaker"
	"github.com/ksred/tradeguard-api/internal/database"
	"github.com/ksred/tradeguard-api/internal/events"
	"github.com/ksred/tradeguard-api/internal/exchange"
	"github.com/ksred/tradeguard-api/internal/guard"
	"github.com/ksred/tradeguard-api/internal/idempotency"
	"github.com/ksred/tradeguard-api/internal/orders"
)

const (
	minSubmissions = 15
	maxSubmissions = 150
	numWorkers     = 5
	serverAddress  = "http://localhost:8080"

	testAPIKey    = "test-api-key"
	testAPISecret = "test-api-secret"
	testTenantID  = "tenant-demo"
	simExchangeID = "SIM"
)

var (
	strategies = []string{"momentum", "mean-reversion", "breakout", "scalping"}
	assets     = []string{"BTC-USD", "ETH-USD", "SOL-USD", "AVAX-USD"}
)

// Populated by startServer so the scenario driver can seed exchange-side
// state the way the platform's order pipeline would.
var (
	simAdapter  *exchange.SimulatedAdapter
	simOrdersDB *orders.Database
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the safety guard API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"breaker":  {name: "Create Breaker"},
			"signal":   {name: "Risk Signal"},
			"status":   {name: "Trading Status"},
			"check":    {name: "Check Retry"},
			"register": {name: "Register Submission"},
			"outcome":  {name: "Record Outcome"},
			"reset":    {name: "Reset Breaker"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// doJSON issues a request with the simulation's auth header and decodes the
// standard response envelope into out
func (sc *simulationClient) doJSON(method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    testAPIKey,
		"api_secret": testAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.Data.Token == "" {
		return "", fmt.Errorf("authentication response carried no token")
	}

	return result.Data.Token, nil
}

// createBreaker defines a new circuit breaker and returns its ID
func (sc *simulationClient) createBreaker(def breaker.BreakerDefinition) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["breaker"].addDuration(time.Since(start))
	}()

	var created breaker.CircuitBreaker
	if err := sc.doJSON("POST", "/api/v1/breakers", def, &created); err != nil {
		sc.stats["breaker"].failures++
		return "", err
	}
	return created.BreakerID, nil
}

// sendSignal feeds a risk signal to the breaker engine
// Returns the number of breakers the signal tripped
func (sc *simulationClient) sendSignal(signal breaker.RiskSignal) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["signal"].addDuration(time.Since(start))
	}()

	var result struct {
		Tripped []breaker.CircuitBreaker `json:"tripped"`
	}
	if err := sc.doJSON("POST", "/api/v1/internal/signals", signal, &result); err != nil {
		sc.stats["signal"].failures++
		return 0, err
	}
	return len(result.Tripped), nil
}

// tradingStatus asks whether order flow may proceed for the given context
func (sc *simulationClient) tradingStatus(strategyID, assetID string) (*breaker.TradingStatus, error) {
	start := time.Now()
	defer func() {
		sc.stats["status"].addDuration(time.Since(start))
	}()

	path := fmt.Sprintf("/api/v1/internal/trading-status?tenant_id=%s&strategy_id=%s&asset_id=%s",
		testTenantID, strategyID, assetID)
	var status breaker.TradingStatus
	if err := sc.doJSON("GET", path, nil, &status); err != nil {
		sc.stats["status"].failures++
		return nil, err
	}
	return &status, nil
}

// checkRetry runs a submission through the duplicate guard
func (sc *simulationClient) checkRetry(req guard.OrderRequest) (*guard.RetryDecision, error) {
	start := time.Now()
	defer func() {
		sc.stats["check"].addDuration(time.Since(start))
	}()

	payload := struct {
		TenantID string `json:"tenant_id"`
		guard.OrderRequest
	}{TenantID: testTenantID, OrderRequest: req}

	var decision guard.RetryDecision
	if err := sc.doJSON("POST", "/api/v1/internal/orders/check-retry", payload, &decision); err != nil {
		sc.stats["check"].failures++
		return nil, err
	}
	return &decision, nil
}

// registerSubmission claims an idempotency key before dispatch
func (sc *simulationClient) registerSubmission(req guard.OrderRequest) error {
	start := time.Now()
	defer func() {
		sc.stats["register"].addDuration(time.Since(start))
	}()

	payload := struct {
		TenantID string `json:"tenant_id"`
		guard.OrderRequest
	}{TenantID: testTenantID, OrderRequest: req}

	if err := sc.doJSON("POST", "/api/v1/internal/orders/submissions", payload, nil); err != nil {
		sc.stats["register"].failures++
		return err
	}
	return nil
}

// recordOutcome reports how a submission ended
func (sc *simulationClient) recordOutcome(key string, status idempotency.Status) error {
	start := time.Now()
	defer func() {
		sc.stats["outcome"].addDuration(time.Since(start))
	}()

	payload := map[string]string{
		"tenant_id": testTenantID,
		"status":    string(status),
	}
	path := fmt.Sprintf("/api/v1/internal/orders/submissions/%s", key)
	if err := sc.doJSON("PUT", path, payload, nil); err != nil {
		sc.stats["outcome"].failures++
		return err
	}
	return nil
}

// resetBreaker manually closes a tripped breaker using the JWT as the
// step-up credential
func (sc *simulationClient) resetBreaker(breakerID string) error {
	start := time.Now()
	defer func() {
		sc.stats["reset"].addDuration(time.Since(start))
	}()

	payload := map[string]string{"auth_token": sc.authToken}
	path := fmt.Sprintf("/api/v1/breakers/%s/reset", breakerID)
	if err := sc.doJSON("POST", path, payload, nil); err != nil {
		sc.stats["reset"].failures++
		return err
	}
	return nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the trading safety guard simulation
// It starts a local API server, trips and resets breakers with synthetic
// risk signals, and hammers the duplicate guard with concurrent retries
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	stats := struct {
		Submissions     int
		Allowed         int
		DeniedInFlight  int
		DeniedCompleted int
		DeniedExchange  int
		BreakersTripped int
		BreakersReset   int
		TradingBlocked  int
		StartTime       time.Time
		Strategies      map[string]int
	}{
		StartTime:  time.Now(),
		Strategies: make(map[string]int),
	}

	// Phase 1: breaker lifecycle driven by risk signals
	portfolioBreakerID := runBreakerScenario(simClient, &stats.BreakersTripped, &stats.TradingBlocked)

	// Phase 2: concurrent duplicate-guard submissions
	targetSubmissions := rand.Intn(maxSubmissions-minSubmissions) + minSubmissions
	log.Info().Int("target_submissions", targetSubmissions).Msg("Starting submission simulation")

	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runSubmissionWorker(workerID, targetSubmissions/numWorkers, simClient, &mu, &stats.Submissions,
				&stats.Allowed, &stats.DeniedInFlight, &stats.DeniedCompleted, &stats.DeniedExchange, stats.Strategies)
		}(i)
	}
	wg.Wait()

	// Phase 3: manual reset restores trading
	if portfolioBreakerID != "" {
		if err := simClient.resetBreaker(portfolioBreakerID); err != nil {
			log.Error().Err(err).Msg("Failed to reset portfolio breaker")
		} else {
			stats.BreakersReset++
		}
		status, err := simClient.tradingStatus(strategies[0], assets[0])
		if err == nil {
			if status.Allowed {
				log.Info().Msg("Trading restored after manual reset")
			} else {
				stats.TradingBlocked++
				log.Warn().Int("blocked_by", len(status.BlockedBy)).Msg("Trading still blocked after reset")
			}
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🛡️  TRADING SAFETY GUARD SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Guard Statistics
------------------
Submissions:        %d
Allowed:            %d
Denied (in flight): %d
Denied (completed): %d
Denied (exchange):  %d
Breakers Tripped:   %d
Breakers Reset:     %d
Trading Blocked:    %d
Duration:           %v

📈 Strategy Distribution
----------------------
`, stats.Submissions, stats.Allowed, stats.DeniedInFlight, stats.DeniedCompleted,
		stats.DeniedExchange, stats.BreakersTripped, stats.BreakersReset,
		stats.TradingBlocked, duration.Round(time.Millisecond))

	// Print strategy distribution with simple ASCII bar chart
	maxStrategyCount := 0
	for _, count := range stats.Strategies {
		if count > maxStrategyCount {
			maxStrategyCount = count
		}
	}
	for strategy, count := range stats.Strategies {
		if maxStrategyCount == 0 {
			break
		}
		barLength := int(float64(count) / float64(maxStrategyCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-16s: %s (%d)\n", strategy, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	denials := stats.DeniedInFlight + stats.DeniedCompleted + stats.DeniedExchange
	log.Info().
		Int("submissions", stats.Submissions).
		Int("allowed", stats.Allowed).
		Int("denied", denials).
		Int("breakers_tripped", stats.BreakersTripped).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// runBreakerScenario creates breakers, trips the portfolio one with a burst
// of failure signals, and verifies trading is blocked while it is OPEN.
// Returns the tripped portfolio breaker's ID for the manual reset phase
func runBreakerScenario(simClient *simulationClient, breakersTripped, tradingBlocked *int) string {
	count := 3
	portfolioID, err := simClient.createBreaker(breaker.BreakerDefinition{
		Name:  "portfolio failure halt",
		Scope: breaker.ScopePortfolio,
		Condition: breaker.ConditionInput{
			Type:  breaker.ConditionConsecutiveFailures,
			Count: &count,
		},
		CooldownMinutes:  10,
		AutoResetEnabled: false,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create portfolio breaker")
		return ""
	}

	lossThreshold := decimal.NewFromInt(5)
	window := 15
	if _, err := simClient.createBreaker(breaker.BreakerDefinition{
		Name:    "momentum loss halt",
		Scope:   breaker.ScopeStrategy,
		ScopeID: strategies[0],
		Condition: breaker.ConditionInput{
			Type:              breaker.ConditionLossRate,
			LossPercent:       &lossThreshold,
			TimeWindowMinutes: &window,
		},
		CooldownMinutes:  5,
		AutoResetEnabled: true,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to create strategy breaker")
	}

	// Feed an escalating failure run; the third signal crosses the threshold
	for failures := 1; failures <= 3; failures++ {
		f := failures
		tripped, err := simClient.sendSignal(breaker.RiskSignal{
			TenantID:            testTenantID,
			Scope:               breaker.ScopePortfolio,
			ConsecutiveFailures: &f,
			ObservedAt:          time.Now().UTC(),
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to send risk signal")
			continue
		}
		*breakersTripped += tripped
	}

	status, err := simClient.tradingStatus(strategies[0], assets[0])
	if err != nil {
		log.Error().Err(err).Msg("Failed to query trading status")
	} else if !status.Allowed {
		*tradingBlocked++
		log.Warn().Int("blocked_by", len(status.BlockedBy)).Msg("Trading blocked by open breakers")
	}

	return portfolioID
}

// runSubmissionWorker drives the duplicate guard through the submission
// lifecycle: check, register, report an outcome, then retry the same key
func runSubmissionWorker(workerID, numSubmissions int, simClient *simulationClient,
	mu *sync.Mutex, submissions, allowed, deniedInFlight, deniedCompleted, deniedExchange *int,
	strategyCounts map[string]int) {

	for i := 0; i < numSubmissions; i++ {
		key := uuid.New().String()
		orderID := uuid.New().String()
		strategy := strategies[rand.Intn(len(strategies))]

		req := guard.OrderRequest{
			IdempotencyKey: key,
			OrderID:        orderID,
			ExchangeID:     simExchangeID,
		}

		decision, err := simClient.checkRetry(req)
		if err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to check retry")
			continue
		}

		mu.Lock()
		*submissions++
		strategyCounts[strategy]++
		if decision.ShouldRetry {
			*allowed++
		}
		mu.Unlock()

		if !decision.ShouldRetry {
			continue
		}

		if err := simClient.registerSubmission(req); err != nil {
			log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to register submission")
			continue
		}

		// Simulate the dispatch and its outcome
		time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)

		switch rand.Intn(3) {
		case 0:
			// Completed: a retry of the same key must be denied
			if err := simClient.recordOutcome(key, idempotency.StatusCompleted); err != nil {
				log.Error().Err(err).Msg("Failed to record outcome")
				continue
			}
			retry, err := simClient.checkRetry(req)
			if err == nil && !retry.ShouldRetry {
				mu.Lock()
				*deniedCompleted++
				mu.Unlock()
			}

		case 1:
			// Still in flight: a concurrent retry must be denied
			retry, err := simClient.checkRetry(req)
			if err == nil && !retry.ShouldRetry {
				mu.Lock()
				*deniedInFlight++
				mu.Unlock()
			}
			_ = simClient.recordOutcome(key, idempotency.StatusSubmitted)

		case 2:
			// Ambiguous failure: the order reached the exchange but the
			// caller never saw the acknowledgement. Verification decides.
			exchangeOrderID := fmt.Sprintf("EX-%s", uuid.New().String()[:8])
			order := &orders.Order{
				OrderID:         orderID,
				TenantID:        testTenantID,
				ExchangeOrderID: exchangeOrderID,
				ExchangeID:      simExchangeID,
				IdempotencyKey:  key,
				Symbol:          assets[rand.Intn(len(assets))],
				Side:            "BUY",
				OrderType:       "MARKET",
				Quantity:        decimal.NewFromInt(int64(rand.Intn(100) + 1)),
				Price:           decimal.NewFromInt(int64(rand.Intn(1000) + 100)),
				Status:          orders.StatusPending,
			}
			if err := simOrdersDB.CreateOrder(order); err != nil {
				log.Error().Err(err).Msg("Failed to seed order record")
				continue
			}
			simAdapter.SetOrderStatus(exchangeOrderID, orders.StatusOpen)

			if err := simClient.recordOutcome(key, idempotency.StatusFailed); err != nil {
				log.Error().Err(err).Msg("Failed to record outcome")
			}
			retry, err := simClient.checkRetry(req)
			if err == nil && !retry.ShouldRetry {
				mu.Lock()
				*deniedExchange++
				mu.Unlock()
			}
		}

		// Random sleep between submissions
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the safety guard API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService("tradeguard-secret-key")
	authService.RegisterAPICredentials(testAPIKey, testAPISecret, testTenantID)

	breakerService := breaker.NewService(db, events.NewLogPublisher(), authService)

	ledger := idempotency.NewSQLLedger(db)
	simOrdersDB = orders.NewDatabase(db)

	adapters := exchange.NewRegistry()
	simAdapter = exchange.NewSimulatedAdapter(simExchangeID, "Simulated Exchange", 5, 30, 0.05)
	adapters.Register(testTenantID, simExchangeID, simAdapter)

	verifier := guard.NewVerifier(simOrdersDB, adapters, 2*time.Second)
	guardService := guard.NewService(ledger, verifier, simOrdersDB)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	breakerHandlers := breaker.NewGinHandlers(breakerService)
	guardHandlers := guard.NewGinHandlers(guardService)

	// Setup routes
	setupRoutes(router, authHandlers, breakerHandlers, guardHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; the simulation skips auth middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	breakerHandlers *breaker.GinHandlers,
	guardHandlers *guard.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Breaker routes
		breakers := v1.Group("/breakers")
		breakers.Use(fakeTenant())
		{
			breakers.POST("", breakerHandlers.CreateBreakerHandler())
			breakers.GET("", breakerHandlers.ListBreakersHandler())
			breakers.GET("/:breaker_id", breakerHandlers.GetBreakerHandler())
			breakers.PUT("/:breaker_id", breakerHandlers.UpdateBreakerHandler())
			breakers.DELETE("/:breaker_id", breakerHandlers.DeleteBreakerHandler())
			breakers.POST("/:breaker_id/trip", breakerHandlers.TripBreakerHandler())
			breakers.POST("/:breaker_id/reset", breakerHandlers.ResetBreakerHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		{
			internal.POST("/signals", breakerHandlers.EvaluateSignalHandler())
			internal.GET("/trading-status", breakerHandlers.TradingStatusHandler())
			internal.POST("/orders/check-retry", guardHandlers.CheckRetryHandler())
			internal.POST("/orders/submissions", guardHandlers.RegisterSubmissionHandler())
			internal.PUT("/orders/submissions/:idempotency_key", guardHandlers.RecordOutcomeHandler())
			internal.DELETE("/orders/submissions/:idempotency_key", guardHandlers.ReleaseSubmissionHandler())
		}
	}
}

// fakeTenant pins the tenant identity the JWT middleware would normally
// extract, so the simulation can skip token parsing on every request
func fakeTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("tenantID", testTenantID)
		c.Next()
	}
}
