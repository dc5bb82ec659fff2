package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/coregflow/internal/observability"
)

var (
	server          string
	visitors        int
	conc            int
	rate            float64
	yesRate         float64
	skipRate        float64
	doubleClickRate float64
	shortForm       bool
	coregFirst      bool
	stats           bool
	debug           bool
	label           string
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

var userIPs = []string{
	"192.0.2.1",
	"198.51.100.1",
	"203.0.113.1",
}

const statsInterval = 5 * time.Second

var (
	countSessions  uint64
	countCompleted uint64
	countAnswers   uint64
	countConflicts uint64
	countLongForms uint64
	countErrors    uint64
)

type step struct {
	Section int    `json:"section"`
	Done    bool   `json:"done"`
	Total   int    `json:"total"`
	Signal  string `json:"signal"`
}

type sessionResp struct {
	Token string `json:"token"`
	Step  step   `json:"step"`
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "coreg flow server base URL")
	flag.IntVar(&visitors, "visitors", 100, "number of visitors to simulate")
	flag.IntVar(&conc, "concurrency", 20, "concurrent visitors")
	flag.Float64Var(&rate, "rate", 0, "new visitors per second (0 for unlimited)")
	flag.Float64Var(&yesRate, "yes-rate", 0.4, "probability of answering yes")
	flag.Float64Var(&skipRate, "skip-rate", 0.2, "probability of skipping a section")
	flag.Float64Var(&doubleClickRate, "double-click-rate", 0.1, "probability of a duplicate click on an answer")
	flag.BoolVar(&shortForm, "shortform", true, "complete the short form after the questionnaire")
	flag.BoolVar(&coregFirst, "coreg-first", true, "questionnaire precedes the short form")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "flow-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var interval time.Duration
	if rate > 0 {
		interval = time.Duration(float64(time.Second) / rate)
	}

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					return
				}
			}
		}()
	}

	next := time.Now()
	for i := 0; i < visitors; i++ {
		if interval > 0 {
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(interval)
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
			if err := visit(r, i); err != nil {
				atomic.AddUint64(&countErrors, 1)
				logger.Error("visitor failed", zap.Int("visitor", i), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
	close(done)
	printStats()
}

// visit walks one visitor through the questionnaire and the forms.
func visit(r *rand.Rand, i int) error {
	ip := userIPs[r.Intn(len(userIPs))]
	body := map[string]any{
		"tracking":               map[string]string{"aff_id": "sim", "offer_id": label, "sub_id": fmt.Sprint(i)},
		"coreg_before_shortform": coregFirst,
	}
	var sess sessionResp
	if _, err := post(ip, "", "/coreg/sessions", body, &sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	atomic.AddUint64(&countSessions, 1)

	cur := sess.Step
	for !cur.Done {
		path, ev := "/coreg/answer", map[string]any{"section": cur.Section, "value": "no"}
		switch x := r.Float64(); {
		case x < skipRate:
			path, ev = "/coreg/skip", map[string]any{"section": cur.Section}
		case x < skipRate+yesRate:
			ev["value"] = "yes"
		}

		if path == "/coreg/answer" && r.Float64() < doubleClickRate {
			go func() {
				status, _ := post(ip, sess.Token, path, ev, nil)
				if status == http.StatusConflict {
					atomic.AddUint64(&countConflicts, 1)
				}
			}()
		}

		var next step
		status, err := post(ip, sess.Token, path, ev, &next)
		if status == http.StatusConflict {
			// the duplicate click won; read where the flow is now
			atomic.AddUint64(&countConflicts, 1)
			if _, err := get(sess.Token, "/coreg/session", &sess); err != nil {
				return err
			}
			cur = sess.Step
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		atomic.AddUint64(&countAnswers, 1)
		cur = next
	}

	if shortForm {
		profile := map[string]any{"profile": map[string]string{
			"gender": "female", "firstname": "Sim", "lastname": fmt.Sprintf("Visitor%d", i),
			"email": fmt.Sprintf("sim%d@example.com", i), "dob": "01/01/1990",
		}}
		if _, err := post(ip, sess.Token, "/coreg/shortform", profile, nil); err != nil {
			return fmt.Errorf("short form: %w", err)
		}
	}
	if cur.Signal == "show-long-form" {
		address := map[string]any{"address": map[string]string{
			"postcode": "1234AB", "straat": "Simstraat", "huisnummer": "1", "woonplaats": "Utrecht", "telefoon": "0612345678",
		}}
		if _, err := post(ip, sess.Token, "/coreg/longform", address, nil); err != nil {
			return fmt.Errorf("long form: %w", err)
		}
		atomic.AddUint64(&countLongForms, 1)
	}
	atomic.AddUint64(&countCompleted, 1)
	logger.Debug("visitor completed", zap.Int("visitor", i), zap.Int("sections", cur.Total))
	return nil
}

func post(ip, token, path string, body, out any) (int, error) {
	blob, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(blob))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", ip)
	if token != "" {
		req.Header.Set("X-Coreg-Session", token)
	}
	return do(req, out)
}

func get(token, path string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+path, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Coreg-Session", token)
	return do(req, out)
}

func do(req *http.Request, out any) (int, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func printStats() {
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sessions", atomic.LoadUint64(&countSessions)),
		zap.Uint64("completed", atomic.LoadUint64(&countCompleted)),
		zap.Uint64("answers", atomic.LoadUint64(&countAnswers)),
		zap.Uint64("conflicts", atomic.LoadUint64(&countConflicts)),
		zap.Uint64("long_forms", atomic.LoadUint64(&countLongForms)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)))
}
