package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"parley/internal/actionlog"
	"parley/internal/analytics"
	"parley/internal/cmdlog"
	"parley/internal/config"
	"parley/internal/credstore"
	"parley/internal/engage"
	"parley/internal/ledger"
	"parley/internal/logging"
	"parley/internal/metrics"
	"parley/internal/model"
	"parley/internal/outreach"
	"parley/internal/platform/bsky"
	"parley/internal/reply"
	"parley/internal/schedule"
	"parley/internal/session"
	"parley/internal/theme"
)

const defaultConfigPath = "./parley.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	if os.Getenv("PARLEY_DEBUG") != "" {
		logging.SetDebug()
	}
	var err error
	switch cmd {
	case "init":
		err = cmdlog.Run("init", cmdInit)
	case "visit":
		err = cmdlog.Run("visit", cmdVisit)
	case "pull":
		err = cmdlog.Run("pull", cmdPull)
	case "classify":
		err = cmdlog.Run("classify", cmdClassify)
	case "migrate":
		err = cmdlog.Run("migrate", cmdMigrate)
	case "schedule":
		err = cmdlog.Run("schedule", cmdSchedule)
	case "monitor":
		err = cmdlog.Run("monitor", cmdMonitor)
	case "whoami":
		err = cmdlog.Run("whoami", cmdWhoami)
	default:
		printHelp()
	}
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: parley <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file and starter voice file")
	fmt.Println("  visit       Visit the next account due: fetch, reply, record")
	fmt.Println("  pull        Pull followers into the ledger")
	fmt.Println("  classify    List or set friend/foe markers")
	fmt.Println("  migrate     Bring the ledger file up to the current schema")
	fmt.Println("  schedule    Show the next window outside quiet hours")
	fmt.Println("  monitor     Show hourly visit outcomes")
	fmt.Println("  whoami      Show the active session identity")
}

// app bundles everything a command needs, built once from config.
type app struct {
	cfg      config.Config
	creds    *credstore.Store
	led      *ledger.Ledger
	actions  *actionlog.DB
	client   *bsky.Client
	sessions *session.Manager
}

func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	metrics.StartServer(cfg.Metrics.Addr)

	creds := credstore.Load(cfg.Paths.Credentials)
	seedCredential(creds, cfg)

	led, err := ledger.Load(cfg.Paths.Ledger)
	if err != nil {
		return nil, err
	}
	actions, err := actionlog.Open(cfg.Paths.ActionLog)
	if err != nil {
		return nil, fmt.Errorf("opening action log: %w", err)
	}
	client := bsky.NewClient(cfg.Platform.PDSURL)
	return &app{
		cfg:      cfg,
		creds:    creds,
		led:      led,
		actions:  actions,
		client:   client,
		sessions: session.NewManager(creds, client),
	}, nil
}

// seedCredential carries identity and app password from config into the
// credential store without disturbing stored tokens.
func seedCredential(store *credstore.Store, cfg config.Config) {
	cred := store.Get(cfg.Platform.Name)
	if cred == nil {
		cred = &credstore.Credential{Platform: cfg.Platform.Name}
	}
	if cfg.Platform.Handle != "" {
		cred.Identifier = cfg.Platform.Handle
	}
	if cfg.Platform.AppPassword != "" {
		cred.AppPassword = cfg.Platform.AppPassword
	}
	store.Put(cred)
}

func (a *app) generator() (reply.Generator, string, error) {
	if a.cfg.Reply.Provider != "anthropic" {
		return nil, "", fmt.Errorf("reply provider %q cannot generate replies", a.cfg.Reply.Provider)
	}
	if a.cfg.Reply.APIKey == "" {
		return nil, "", fmt.Errorf("missing reply API key; set ANTHROPIC_API_KEY")
	}
	voice, err := reply.LoadVoice(a.cfg.Paths.Voice)
	if err != nil {
		return nil, "", err
	}
	return reply.NewLLM(a.cfg.Reply.Model, a.cfg.Reply.APIKey, a.cfg.Reply.MaxAttempts), voice, nil
}

func cmdInit() error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "path to write config")
	_ = fs.Parse(os.Args[2:])

	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Paths.Voice); os.IsNotExist(err) {
		starter := "Curious, direct, a little dry. Asks one good question rather than\nmaking three points. Never uses hashtags.\n"
		if werr := os.WriteFile(cfg.Paths.Voice, []byte(starter), 0o644); werr != nil {
			return werr
		}
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	fmt.Println("Edit", cfg.Paths.Voice, "to describe the account's voice.")
	return nil
}

func cmdVisit() error {
	fs := flag.NewFlagSet("visit", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	force := fs.Bool("force", false, "ignore quiet hours and reply budgets")
	_ = fs.Parse(os.Args[2:])

	a, err := buildApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.actions.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	if !*force {
		if schedule.InQuietHours(now, a.cfg.Engagement.QuietHours) {
			next := schedule.NextWindow(now, a.cfg.Engagement.QuietHours)
			fmt.Println("Quiet hours. Next window:", next.Format(time.RFC3339))
			return nil
		}
		ok, err := engage.AllowReply(ctx, a.actions, a.cfg.Engagement, now)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Reply budget exhausted; not visiting.")
			return nil
		}
	}

	gen, voice, err := a.generator()
	if err != nil {
		return err
	}
	sched := outreach.New(outreach.Config{
		Ledger:    a.led,
		Client:    a.client,
		Sessions:  a.sessions,
		Generator: gen,
		Actions:   a.actions,
		Platform:  a.cfg.Platform.Name,
		Voice:     voice,
		MaxChars:  a.cfg.Reply.MaxChars,
		Lookback:  time.Duration(a.cfg.Reply.LookbackHours) * time.Hour,
	})
	v, verr := sched.VisitOnce(ctx)
	if v != nil {
		switch v.Outcome {
		case model.OutcomeReplied:
			fmt.Printf("Replied to @%s: %s\n", v.Handle, v.ReplyURI)
		case model.OutcomeSkipped:
			fmt.Printf("Skipped @%s: %s\n", v.Handle, v.Reason)
		case model.OutcomeNoContent:
			fmt.Printf("No eligible content from @%s.\n", v.Handle)
		}
	} else if verr == nil {
		fmt.Println("Ledger is empty. Run `parley pull` to discover accounts.")
	}
	return verr
}

func cmdPull() error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	limit := fs.Int("limit", 0, "max profiles to examine this run (0 = all)")
	_ = fs.Parse(os.Args[2:])

	a, err := buildApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.actions.Close()

	added, err := outreach.Pull(context.Background(), outreach.PullConfig{
		Ledger:       a.led,
		Client:       a.client,
		Sessions:     a.sessions,
		Actions:      a.actions,
		Platform:     a.cfg.Platform.Name,
		Actor:        a.cfg.Platform.Handle,
		PageSize:     a.cfg.Audience.PageSize,
		MinFollowers: a.cfg.Audience.MinFollowers,
		VerifiedOnly: a.cfg.Audience.VerifiedOnly,
	}, *limit)
	if err != nil {
		return err
	}
	fmt.Printf("Added %d new accounts (%d total).\n", added, a.led.Len())
	return nil
}

func cmdClassify() error {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	_ = fs.Parse(os.Args[2:])
	args := fs.Args()

	a, err := buildApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.actions.Close()

	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		for _, rec := range a.led.All() {
			mark := string(rec.Classification)
			if mark == "" {
				mark = "-"
			}
			fmt.Printf("%-8s @%s checked=%d replied=%d skipped=%d\n",
				mark, rec.Handle, rec.TimesChecked, rec.TimesReplied, rec.TimesSkipped)
		}
		return nil
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: parley classify set <did|handle> <friend|foe|none>")
		}
		val := args[2]
		if val == "none" {
			val = ""
		}
		if !model.ValidClassification(val) {
			return fmt.Errorf("unknown classification %q (friend, foe, none)", args[2])
		}
		rec := a.led.Get(args[1])
		if rec == nil {
			for _, r := range a.led.All() {
				if r.Handle == args[1] {
					rec = r
					break
				}
			}
		}
		if rec == nil {
			return fmt.Errorf("no ledger record for %q", args[1])
		}
		rec.Classification = model.Classification(val)
		if err := a.led.Persist(); err != nil {
			return err
		}
		fmt.Printf("@%s marked %q\n", rec.Handle, args[2])
		return nil
	default:
		return fmt.Errorf("usage: parley classify <list|set> ...")
	}
}

func cmdMigrate() error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	led, err := ledger.Load(cfg.Paths.Ledger)
	if err != nil {
		return err
	}
	missing := led.CurrentSchemaColumns()
	if len(missing) == 0 {
		fmt.Println("Ledger schema is current.")
		return nil
	}
	if err := led.MigrateSchema(missing, time.Now()); err != nil {
		return err
	}
	fmt.Printf("Migrated %s: added %d column(s).\n", cfg.Paths.Ledger, len(missing))
	return nil
}

func cmdSchedule() error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	now := time.Now().UTC()
	if schedule.InQuietHours(now, cfg.Engagement.QuietHours) {
		fmt.Println("Currently in quiet hours.")
	}
	next := schedule.NextWindow(now, cfg.Engagement.QuietHours)
	fmt.Println("Next window:", next.Format(time.RFC3339))
	return nil
}

func cmdMonitor() error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	hours := fs.Int("hours", 24, "lookback window in hours")
	_ = fs.Parse(os.Args[2:])

	a, err := buildApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.actions.Close()

	now := time.Now().UTC()
	actions, err := a.actions.Range(context.Background(), now.Add(-time.Duration(*hours)*time.Hour), now, "")
	if err != nil {
		return err
	}
	buckets := analytics.HourlyOutcomes(actions)
	if len(buckets) == 0 {
		fmt.Println("No activity in window.")
		return nil
	}
	for _, k := range analytics.SortedBucketKeys(buckets) {
		fmt.Printf("%s -> %v\n", k.Format("2006-01-02 15:00"), buckets[k])
	}
	return nil
}

func cmdWhoami() error {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	_ = fs.Parse(os.Args[2:])

	a, err := buildApp(*cfgPath)
	if err != nil {
		return err
	}
	defer a.actions.Close()

	sess, err := a.sessions.ObtainValidSession(context.Background(), a.cfg.Platform.Name)
	if err != nil {
		return err
	}
	fmt.Println("Handle:", sess.Handle)
	fmt.Println("DID:   ", sess.DID)
	if exp, err := session.TokenExpiry(sess.AccessToken); err == nil {
		fmt.Println("Token valid until:", exp.UTC().Format(time.RFC3339))
	}
	return nil
}
