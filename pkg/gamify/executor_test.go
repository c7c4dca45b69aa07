package gamify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/masa-finance/gamify-sdk-go/pkg/gamify"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recordingObserver struct {
	mu       sync.Mutex
	attempts []gamify.Kind
	statuses []int
	retries  []time.Duration
}

func (o *recordingObserver) ObserveAttempt(_, _ string, status int, kind gamify.Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, kind)
	o.statuses = append(o.statuses, status)
}

func (o *recordingObserver) ObserveRetry(_, _ string, _ int, wait time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, wait)
}

var _ = Describe("Executor", func() {
	var (
		ctx context.Context
		cfg gamify.Config
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = gamify.Config{BaseURL: testBaseURL, APIKey: "test-key", Timeout: time.Second}
	})

	Describe("a successful fetch", func() {
		It("returns the unwrapped data and rate limit snapshot", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":{"user_id":"u1","points":10}}`,
				map[string]string{"x-ratelimit-remaining": "999", "x-ratelimit-limit": "1000"}))
			ex := gamify.NewExecutor(cfg, transport)

			res, err := ex.Do(ctx, gamify.Request{Method: http.MethodGet, Path: "/users/u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(MatchJSON(`{"user_id":"u1","points":10}`))
			Expect(res.RateLimit).To(Equal(gamify.RateLimitInfo{Limit: 1000, Remaining: 999, Reset: 0}))
			Expect(res.RequestID).To(BeEmpty())
			Expect(transport.Calls()).To(Equal(1))
		})

		It("passes legacy bodies through", func() {
			transport := newScriptedTransport(reply(200, `{"user_id":"u1","points":5}`, nil))
			ex := gamify.NewExecutor(cfg, transport)

			res, err := ex.Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(MatchJSON(`{"user_id":"u1","points":5}`))
			Expect(res.RequestID).To(BeEmpty())
			Expect(res.Pagination).To(BeNil())
		})

		It("takes the request ID from the header before the body", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":{},"request_id":"from-body"}`,
				map[string]string{"X-Request-Id": "from-header"}))
			res, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/badges"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequestID).To(Equal("from-header"))
		})

		It("takes the request ID and pagination from the envelope", func() {
			transport := newScriptedTransport(reply(200,
				`{"success":true,"data":[],"request_id":"r7","pagination":{"page":1,"limit":20,"total":40,"totalPages":2}}`, nil))
			res, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/badges"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.RequestID).To(Equal("r7"))
			Expect(res.Pagination).To(Equal(&gamify.Pagination{Page: 1, Limit: 20, Total: 40, TotalPages: 2}))
		})
	})

	Describe("building the request", func() {
		It("drops nil query values and keeps other zero values", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			var missing *int
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{
				Path: "/leaderboards/weekly",
				Query: map[string]any{
					"a": nil,
					"b": 0,
					"c": false,
					"d": "",
					"e": missing,
					"f": "x y",
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.Request(0).URL).To(Equal(testBaseURL + "/leaderboards/weekly?b=0&c=false&d=&f=x+y"))
			Expect(transport.Request(0).Method).To(Equal(http.MethodGet))
		})

		It("joins base URL and path with a single slash", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			cfg.BaseURL = testBaseURL + "/"
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/badges"})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.Request(0).URL).To(Equal(testBaseURL + "/badges"))
		})

		It("sets the body only when present", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			ex := gamify.NewExecutor(cfg, transport)

			_, err := ex.Do(ctx, gamify.Request{Method: http.MethodPost, Path: "/events", Body: map[string]int{"points": 0}})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.Request(0).Body).To(MatchJSON(`{"points":0}`))
			Expect(transport.Request(0).Header.Get("Content-Type")).To(Equal("application/json"))

			_, err = ex.Do(ctx, gamify.Request{Method: http.MethodDelete, Path: "/events/e1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.Request(1).Body).To(BeNil())
			Expect(transport.Request(1).Header.Get("Content-Type")).To(BeEmpty())
		})

		It("adds auth, default, per-call and idempotency headers", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{
				Method:         http.MethodPost,
				Path:           "/events",
				Headers:        map[string]string{"X-Trace": "t1"},
				IdempotencyKey: "idem-1",
			})
			Expect(err).NotTo(HaveOccurred())

			h := transport.Request(0).Header
			Expect(h.Get("Authorization")).To(Equal("Bearer test-key"))
			Expect(h.Get("Accept")).To(Equal("application/json"))
			Expect(h.Get("User-Agent")).To(Equal(gamify.DefaultUserAgent))
			Expect(h.Get("X-Trace")).To(Equal("t1"))
			Expect(h.Get("X-Idempotency-Key")).To(Equal("idem-1"))
		})

		It("omits the idempotency header when no key is given", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/events"})
			Expect(err).NotTo(HaveOccurred())
			Expect(transport.Request(0).Header.Values("X-Idempotency-Key")).To(BeEmpty())
		})

		It("rejects bodies that cannot be encoded without dispatching", func() {
			transport := newScriptedTransport(reply(200, `{}`, nil))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{
				Method: http.MethodPost,
				Path:   "/events",
				Body:   map[string]interface{}{"bad": make(chan int)},
			})
			Expect(errors.Is(err, gamify.ErrValidation)).To(BeTrue())
			Expect(asAPIError(err).Code).To(Equal(gamify.CodeInvalidInput))
			Expect(transport.Calls()).To(BeZero())
		})
	})

	Describe("failures", func() {
		It("surfaces a validation failure with the server code", func() {
			transport := newScriptedTransport(reply(400,
				`{"success":false,"error":{"message":"User ID is required","code":"MISSING_USER_ID"}}`, nil))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users"})

			Expect(errors.Is(err, gamify.ErrValidation)).To(BeTrue())
			apiErr := asAPIError(err)
			Expect(apiErr.Code).To(Equal("MISSING_USER_ID"))
			Expect(apiErr.Message).To(Equal("User ID is required"))
			Expect(apiErr.StatusCode).To(Equal(400))
		})

		It("turns a logical error on a 2xx response into a validation failure", func() {
			transport := newScriptedTransport(reply(200,
				`{"success":false,"error":{"message":"Quota reached","code":"QUOTA"},"request_id":"r5"}`, nil))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/events"})

			apiErr := asAPIError(err)
			Expect(apiErr).NotTo(BeNil())
			Expect(apiErr.Kind).To(Equal(gamify.KindValidation))
			Expect(apiErr.StatusCode).To(Equal(400))
			Expect(apiErr.Code).To(Equal("QUOTA"))
			Expect(apiErr.RequestID).To(Equal("r5"))
		})

		It("surfaces a rate limit failure after one attempt when retry is disabled", func() {
			transport := newScriptedTransport(reply(429, ``, map[string]string{"retry-after": "30"}))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1"})

			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(asAPIError(err).RetryAfterSeconds).To(Equal(30))
			Expect(transport.Calls()).To(Equal(1))
		})

		It("maps timeouts to TIMEOUT/408", func() {
			transport := newScriptedTransport(failWith(errors.New("request Timeout exceeded")))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1"})

			apiErr := asAPIError(err)
			Expect(apiErr.Kind).To(Equal(gamify.KindGeneric))
			Expect(apiErr.Code).To(Equal(gamify.CodeTimeout))
			Expect(apiErr.StatusCode).To(Equal(http.StatusRequestTimeout))
		})

		It("applies the per-call timeout to each attempt", func() {
			transport := gamify.TransportFunc(func(ctx context.Context, _ *gamify.TransportRequest) (*gamify.TransportResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			start := time.Now()
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1", Timeout: 20 * time.Millisecond})

			Expect(asAPIError(err).Code).To(Equal(gamify.CodeTimeout))
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		})

		It("maps other transport errors to NETWORK_ERROR/0 keeping the message", func() {
			cause := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
			transport := newScriptedTransport(failWith(cause))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1"})

			apiErr := asAPIError(err)
			Expect(apiErr.Code).To(Equal(gamify.CodeNetwork))
			Expect(apiErr.StatusCode).To(BeZero())
			Expect(apiErr.Message).To(Equal(cause.Error()))
			Expect(errors.Is(err, cause)).To(BeTrue())
		})

		It("passes typed failures through unchanged", func() {
			typed := &gamify.Error{Kind: gamify.KindForbidden, Message: "blocked", Code: "BLOCKED", StatusCode: 403}
			transport := newScriptedTransport(failWith(typed))
			_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(err).To(BeIdenticalTo(typed))
		})
	})

	Describe("retrying", func() {
		BeforeEach(func() {
			cfg.AutoRetry = true
			cfg.MaxRetries = 3
		})

		It("makes exactly 1 + maxRetries attempts against a persistent 429", func() {
			transport := newScriptedTransport(reply(429, `{"error":"slow down"}`, map[string]string{"retry-after": "0"}))
			observer := &recordingObserver{}
			ex := gamify.NewExecutor(cfg, transport)
			client, err := gamify.NewClient(cfg, gamify.WithTransport(transport), gamify.WithObserver(observer))
			Expect(err).NotTo(HaveOccurred())

			_, err = ex.Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(asAPIError(err).Message).To(Equal("slow down"))
			Expect(transport.Calls()).To(Equal(4))

			_, err = client.Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(transport.Calls()).To(Equal(8))
			Expect(observer.attempts).To(HaveLen(4))
			Expect(observer.retries).To(Equal([]time.Duration{0, 0, 0}))
		})

		It("waits exactly the server's Retry-After before each retry", func() {
			cfg.MaxRetries = 2
			transport := newScriptedTransport(reply(429, ``, map[string]string{"retry-after": "1"}))
			observer := &recordingObserver{}
			client, err := gamify.NewClient(cfg, gamify.WithTransport(transport), gamify.WithObserver(observer))
			Expect(err).NotTo(HaveOccurred())

			start := time.Now()
			_, err = client.Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(transport.Calls()).To(Equal(3))
			Expect(observer.retries).To(Equal([]time.Duration{time.Second, time.Second}))
			Expect(time.Since(start)).To(BeNumerically(">=", 2*time.Second))
		})

		It("keeps waiting when Retry-After is too large for a duration", func() {
			cfg.MaxRetries = 1
			transport := newScriptedTransport(reply(429, ``, map[string]string{"retry-after": "9999999999"}))
			observer := &recordingObserver{}
			client, err := gamify.NewClient(cfg, gamify.WithTransport(transport), gamify.WithObserver(observer))
			Expect(err).NotTo(HaveOccurred())

			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err = client.Do(cctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(transport.Calls()).To(Equal(1))
			Expect(observer.retries).To(Equal([]time.Duration{time.Duration(gamify.MaxRetryAfterSeconds) * time.Second}))
		})

		It("resends the same request and returns the eventual success", func() {
			transport := newScriptedTransport(
				reply(429, ``, map[string]string{"Retry-After": "0"}),
				reply(200, `{"success":true,"data":{"event_id":"e1"}}`, nil),
			)
			res, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{
				Method:         http.MethodPost,
				Path:           "/events",
				Body:           map[string]string{"user_id": "u1"},
				IdempotencyKey: "k1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(MatchJSON(`{"event_id":"e1"}`))
			Expect(transport.Calls()).To(Equal(2))
			Expect(transport.Request(1)).To(Equal(transport.Request(0)))
		})

		It("does not retry other failures", func() {
			for _, status := range []int{400, 401, 403, 404, 409, 500, 503} {
				transport := newScriptedTransport(reply(status, ``, map[string]string{"retry-after": "0"}))
				_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/users/u1"})
				Expect(err).To(HaveOccurred())
				Expect(transport.Calls()).To(Equal(1), "status %d", status)
			}
		})

		It("uses the configured delay when the server sends no Retry-After", func() {
			cfg.RetryDelay = time.Millisecond
			transport := newScriptedTransport(reply(429, ``, nil))
			observer := &recordingObserver{}
			client, err := gamify.NewClient(cfg, gamify.WithTransport(transport), gamify.WithObserver(observer))
			Expect(err).NotTo(HaveOccurred())

			_, err = client.Do(ctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(asAPIError(err).RetryAfterSeconds).To(Equal(gamify.DefaultRetryAfterSeconds))
			Expect(observer.retries).To(Equal([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}))
		})

		It("returns the rate limit failure when the context ends during the wait", func() {
			transport := newScriptedTransport(reply(429, ``, map[string]string{"retry-after": "30"}))
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := gamify.NewExecutor(cfg, transport).Do(cctx, gamify.Request{Path: "/users/u1"})
			Expect(errors.Is(err, gamify.ErrRateLimit)).To(BeTrue())
			Expect(transport.Calls()).To(Equal(1))
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		})
	})

	Describe("the rate limit warning hook", func() {
		var warnings []gamify.RateLimitInfo

		BeforeEach(func() {
			warnings = nil
			cfg.OnRateLimitWarning = func(info gamify.RateLimitInfo) {
				warnings = append(warnings, info)
			}
		})

		DescribeTable("fires only past 80% consumption",
			func(limit, remaining string, fires bool) {
				transport := newScriptedTransport(reply(200, `{}`,
					map[string]string{"X-RateLimit-Limit": limit, "X-RateLimit-Remaining": remaining}))
				_, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/badges"})
				Expect(err).NotTo(HaveOccurred())
				if fires {
					Expect(warnings).To(HaveLen(1))
				} else {
					Expect(warnings).To(BeEmpty())
				}
			},
			Entry("199 of 1000 left", "1000", "199", true),
			Entry("200 of 1000 left", "1000", "200", false),
			Entry("999 of 1000 left", "1000", "999", false),
			Entry("unparseable remaining", "1000", "n/a", false),
		)

		It("does not change the result", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":{"ok":true}}`,
				map[string]string{"X-RateLimit-Limit": "100", "X-RateLimit-Remaining": "1"}))
			res, err := gamify.NewExecutor(cfg, transport).Do(ctx, gamify.Request{Path: "/badges"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(MatchJSON(`{"ok":true}`))
			Expect(warnings).To(ConsistOf(gamify.RateLimitInfo{Limit: 100, Remaining: 1}))
		})
	})

	Describe("Execute", func() {
		It("decodes the data into the requested type", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":{"user_id":"u1","points":10}}`, nil))
			res, err := gamify.Execute[gamify.User](ctx, gamify.NewExecutor(cfg, transport), gamify.Request{Path: "/users/u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data.UserID).To(Equal("u1"))
			Expect(res.Data.Points).To(Equal(10))
		})

		It("leaves the zero value for null data", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":null}`, nil))
			res, err := gamify.Execute[gamify.User](ctx, gamify.NewExecutor(cfg, transport), gamify.Request{Path: "/users/u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Data).To(Equal(gamify.User{}))
		})

		It("reports data of the wrong shape as INVALID_RESPONSE", func() {
			transport := newScriptedTransport(reply(200, `{"success":true,"data":"not a user"}`, nil))
			_, err := gamify.Execute[gamify.User](ctx, gamify.NewExecutor(cfg, transport), gamify.Request{Path: "/users/u1"})
			Expect(asAPIError(err).Code).To(Equal(gamify.CodeInvalidResponse))

			var typeErr *json.UnmarshalTypeError
			Expect(errors.As(err, &typeErr)).To(BeTrue())
		})
	})
})
