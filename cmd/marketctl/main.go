package main

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/example/stakemarket/internal/quorum"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "job":
		runJob(os.Args[2:])
	case "vote":
		runVote(os.Args[2:])
	case "stake":
		runStake(os.Args[2:])
	case "admin":
		runAdmin(os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: marketctl <job|vote|stake|admin|token> [...]")
}

func runJob(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: marketctl job <create|get|commit|reveal|finalize|dispute|resolve|timeout|extend> [...]")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("job "+sub, flag.ExitOnError)
	url := fs.String("url", envOr("MARKET_URL", "http://127.0.0.1:8080"), "marketd URL")
	token := fs.String("token", os.Getenv("MARKET_TOKEN"), "API token")
	actor := fs.String("actor", os.Getenv("MARKET_ACTOR"), "acting address")
	jobID := fs.Int64("job", 0, "job id")
	stakeAmount := fs.Int64("stake", 0, "stake amount (create)")
	commitHash := fs.String("commit-hash", "", "work commitment hash (commit)")
	secret := fs.String("secret", "", "work secret (reveal)")
	success := fs.Bool("success", true, "accept the work (finalize)")
	evidencePayload := fs.String("evidence", "", "evidence payload (dispute)")
	slashWorker := fs.Bool("slash-worker", false, "slash the worker (resolve)")
	slashAmount := fs.Int64("slash", 0, "slash amount (resolve, timeout)")
	repDelta := fs.Int64("reputation-delta", 0, "reputation delta (resolve)")
	commitExt := fs.Int64("commit-ext", 0, "commit deadline extension seconds (extend)")
	revealExt := fs.Int64("reveal-ext", 0, "reveal deadline extension seconds (extend)")
	disputeExt := fs.Int64("dispute-ext", 0, "dispute deadline extension seconds (extend)")
	_ = fs.Parse(rest)

	c := client{url: *url, token: *token, actor: *actor}
	switch sub {
	case "create":
		c.post("/v1/jobs", map[string]any{"stake_amount": *stakeAmount})
	case "get":
		c.get(fmt.Sprintf("/v1/jobs/%d", *jobID))
	case "commit":
		c.post(fmt.Sprintf("/v1/jobs/%d/commit", *jobID), map[string]any{"commit_hash": *commitHash})
	case "reveal":
		c.post(fmt.Sprintf("/v1/jobs/%d/reveal", *jobID), map[string]any{"secret": *secret})
	case "finalize":
		c.post(fmt.Sprintf("/v1/jobs/%d/finalize", *jobID), map[string]any{"success": *success})
	case "dispute":
		c.post(fmt.Sprintf("/v1/jobs/%d/dispute", *jobID), map[string]any{"evidence": *evidencePayload})
	case "resolve":
		c.post(fmt.Sprintf("/v1/jobs/%d/dispute/resolve", *jobID), map[string]any{
			"slash_worker":     *slashWorker,
			"slash_amount":     *slashAmount,
			"reputation_delta": *repDelta,
		})
	case "timeout":
		c.post(fmt.Sprintf("/v1/jobs/%d/timeout", *jobID), map[string]any{"slash_amount": *slashAmount})
	case "extend":
		c.post(fmt.Sprintf("/v1/jobs/%d/extend", *jobID), map[string]any{
			"commit_ext_seconds":  *commitExt,
			"reveal_ext_seconds":  *revealExt,
			"dispute_ext_seconds": *disputeExt,
		})
	default:
		fmt.Fprintln(os.Stderr, "usage: marketctl job <create|get|commit|reveal|finalize|dispute|resolve|timeout|extend> [...]")
		os.Exit(1)
	}
}

func runVote(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: marketctl vote <seal|commit|reveal|tally> [...]")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("vote "+sub, flag.ExitOnError)
	url := fs.String("url", envOr("MARKET_URL", "http://127.0.0.1:8080"), "marketd URL")
	token := fs.String("token", os.Getenv("MARKET_TOKEN"), "API token")
	actor := fs.String("actor", os.Getenv("MARKET_ACTOR"), "acting address")
	jobID := fs.Int64("job", 0, "job id")
	approve := fs.Bool("approve", true, "approve the work")
	salt := fs.String("salt", "", "vote salt")
	sealed := fs.String("sealed", "", "sealed vote (commit)")
	_ = fs.Parse(rest)

	c := client{url: *url, token: *token, actor: *actor}
	switch sub {
	case "seal":
		// Seals locally so the salt never leaves the validator's machine.
		if *actor == "" {
			fatalf("--actor is required to seal a vote")
		}
		fmt.Println(quorum.SealVote(*jobID, *actor, *approve, *salt))
	case "commit":
		c.post(fmt.Sprintf("/v1/jobs/%d/votes", *jobID), map[string]any{"sealed_vote": *sealed})
	case "reveal":
		c.post(fmt.Sprintf("/v1/jobs/%d/votes/reveal", *jobID), map[string]any{"approve": *approve, "salt": *salt})
	case "tally":
		c.get(fmt.Sprintf("/v1/jobs/%d/tally", *jobID))
	default:
		fmt.Fprintln(os.Stderr, "usage: marketctl vote <seal|commit|reveal|tally> [...]")
		os.Exit(1)
	}
}

func runStake(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: marketctl stake <deposit|withdraw|account> [...]")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("stake "+sub, flag.ExitOnError)
	url := fs.String("url", envOr("MARKET_URL", "http://127.0.0.1:8080"), "marketd URL")
	token := fs.String("token", os.Getenv("MARKET_TOKEN"), "API token")
	actor := fs.String("actor", os.Getenv("MARKET_ACTOR"), "acting address")
	amount := fs.Int64("amount", 0, "amount")
	address := fs.String("address", "", "account address (account)")
	_ = fs.Parse(rest)

	c := client{url: *url, token: *token, actor: *actor}
	switch sub {
	case "deposit":
		c.post("/v1/stake/deposit", map[string]any{"amount": *amount})
	case "withdraw":
		c.post("/v1/stake/withdraw", map[string]any{"amount": *amount})
	case "account":
		addr := *address
		if addr == "" {
			addr = *actor
		}
		if addr == "" {
			fatalf("--address or --actor is required")
		}
		c.get("/v1/stake/accounts/" + addr)
	default:
		fmt.Fprintln(os.Stderr, "usage: marketctl stake <deposit|withdraw|account> [...]")
		os.Exit(1)
	}
}

func runAdmin(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: marketctl admin <timings|thresholds|config|audit|fees|sweep|pause> [...]")
		os.Exit(1)
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("admin "+sub, flag.ExitOnError)
	url := fs.String("url", envOr("MARKET_URL", "http://127.0.0.1:8080"), "marketd URL")
	token := fs.String("token", os.Getenv("MARKET_TOKEN"), "API token")
	commitWindow := fs.Int64("commit-window", 3600, "commit window seconds")
	revealWindow := fs.Int64("reveal-window", 3600, "reveal window seconds")
	disputeWindow := fs.Int64("dispute-window", 7200, "dispute window seconds")
	approvalBps := fs.Int("approval-bps", 6600, "approval threshold bps")
	quorumMin := fs.Int("quorum-min", 1, "minimum reveals before settlement")
	quorumMax := fs.Int("quorum-max", 0, "reveal count that settles immediately (0 = none)")
	feeBps := fs.Int("fee-bps", 250, "protocol fee bps")
	slashBpsMax := fs.Int("slash-bps-max", 5000, "maximum slash bps")
	revealCutoff := fs.Int64("reveal-cutoff", 0, "reveal cutoff seconds")
	target := fs.String("target", "stake", "pause target: stake|reputation")
	paused := fs.Bool("paused", true, "pause state")
	_ = fs.Parse(rest)

	c := client{url: *url, token: *token}
	switch sub {
	case "timings":
		c.post("/v1/admin/config/timings", map[string]any{
			"commit_window_seconds":  *commitWindow,
			"reveal_window_seconds":  *revealWindow,
			"dispute_window_seconds": *disputeWindow,
		})
	case "thresholds":
		c.post("/v1/admin/config/thresholds", map[string]any{
			"approval_threshold_bps": *approvalBps,
			"quorum_min":             *quorumMin,
			"quorum_max":             *quorumMax,
			"fee_bps":                *feeBps,
			"slash_bps_max":          *slashBpsMax,
			"reveal_cutoff_seconds":  *revealCutoff,
		})
	case "config":
		c.get("/v1/admin/config")
	case "audit":
		c.get("/v1/admin/audit")
	case "fees":
		c.get("/v1/fees")
	case "sweep":
		c.post("/v1/admin/fees/sweep", map[string]any{})
	case "pause":
		path := "/v1/admin/stake/pause"
		if *target == "reputation" {
			path = "/v1/admin/reputation/pause"
		}
		c.post(path, map[string]any{"paused": *paused})
	default:
		fmt.Fprintln(os.Stderr, "usage: marketctl admin <timings|thresholds|config|audit|fees|sweep|pause> [...]")
		os.Exit(1)
	}
}

func runToken(args []string) {
	if len(args) < 1 || args[0] != "create" {
		fmt.Fprintln(os.Stderr, "usage: marketctl token create [--length N]")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	length := fs.Int("length", 32, "random bytes before base64url encoding")
	_ = fs.Parse(args[1:])
	if *length < 16 {
		fatalf("length must be >= 16")
	}
	b := make([]byte, *length)
	if _, err := rand.Read(b); err != nil {
		fatalf("generate token: %v", err)
	}
	fmt.Println(base64.RawURLEncoding.EncodeToString(b))
}

type client struct {
	url   string
	token string
	actor string
}

func (c client) get(path string) {
	req, err := http.NewRequest(http.MethodGet, c.url+path, nil)
	if err != nil {
		fatalf("build request: %v", err)
	}
	c.do(req)
}

func (c client) post(path string, body map[string]any) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("encode request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.url+path, bytes.NewReader(b))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.do(req)
}

func (c client) do(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Market-Actor", c.actor)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Print(string(out))
	if !strings.HasSuffix(string(out), "\n") {
		fmt.Println()
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
