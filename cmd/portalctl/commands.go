package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthbridge/portal-session/internal/core/domain"
	"github.com/healthbridge/portal-session/internal/core/ports"
	"github.com/healthbridge/portal-session/internal/core/service"
	"github.com/healthbridge/portal-session/internal/infrastructure/queue"
	"github.com/healthbridge/portal-session/internal/navigation"
)

const usage = `usage: portalctl <command> [flags]

commands:
  login     -email -password
  logout
  whoami    [-refresh]
  refresh
  update    key=value...   (name.first=Ada, phone=555, JSON values allowed)
  register  -email -password -first -last [-role -phone -gender -dob]
  forgot    -email
  reset     -token -password
  event     -kind foreground|profile_changed|session_revoked|token_expiring [-id]`

type app struct {
	manager     *service.SessionManager
	dedup       service.DedupChecker
	refreshSkew time.Duration
	log         zerolog.Logger
	out         io.Writer
}

type sessionOutput struct {
	Route   navigation.Route `json:"route"`
	Session domain.Session   `json:"session"`
}

func (a *app) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s", usage)
	}
	if err := a.manager.Bootstrap(ctx); err != nil {
		// The manager settles unauthenticated; commands that need a session
		// will report it.
		a.log.Warn().Err(err).Msg("bootstrap failed")
	}

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if _, err := a.manager.Login(ctx, *email, *password); err != nil {
			return err
		}
		return a.printSession()

	case "logout":
		if err := a.manager.Logout(ctx); err != nil {
			return err
		}
		return a.printSession()

	case "whoami":
		refresh := fs.Bool("refresh", false, "re-fetch the profile first")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *refresh {
			if _, err := a.manager.RefreshProfile(ctx); err != nil {
				return err
			}
		}
		return a.printSession()

	case "refresh":
		if err := a.manager.RefreshTokens(ctx); err != nil {
			return err
		}
		return a.printSession()

	case "update":
		partial, err := parseAssignments(rest)
		if err != nil {
			return err
		}
		rec, err := a.manager.UpdateProfile(ctx, partial)
		if err != nil {
			return err
		}
		return a.print(rec)

	case "register":
		var reg ports.Registration
		var role string
		fs.StringVar(&reg.Email, "email", "", "account email")
		fs.StringVar(&reg.Password, "password", "", "account password")
		fs.StringVar(&reg.Name.First, "first", "", "first name")
		fs.StringVar(&reg.Name.Last, "last", "", "last name")
		fs.StringVar(&role, "role", "", "patient or doctor")
		fs.StringVar(&reg.Phone, "phone", "", "phone number")
		fs.StringVar(&reg.Gender, "gender", "", "male, female or other")
		fs.StringVar(&reg.DateOfBirth, "dob", "", "date of birth (YYYY-MM-DD)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		reg.Role = domain.Role(role)
		conf, err := a.manager.Register(ctx, reg)
		if err != nil {
			return err
		}
		return a.print(conf)

	case "forgot":
		email := fs.String("email", "", "account email")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := a.manager.ForgotPassword(ctx, *email); err != nil {
			return err
		}
		return a.print(map[string]string{"status": "reset email requested"})

	case "reset":
		token := fs.String("token", "", "reset token")
		password := fs.String("password", "", "new password")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if err := a.manager.ResetPassword(ctx, *token, *password); err != nil {
			return err
		}
		return a.print(map[string]string{"status": "password reset"})

	case "event":
		kind := fs.String("kind", "", "event kind")
		id := fs.String("id", "", "message id (random when empty)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *id == "" {
			*id = uuid.NewString()
		}
		return a.deliver(ctx, ports.InboundEvent{MessageID: *id, Kind: ports.EventKind(*kind)})
	}

	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

// deliver pushes one event through the dispatcher and reports the route the
// session ends on.
func (a *app) deliver(ctx context.Context, ev ports.InboundEvent) error {
	gate := navigation.NewGate(a.manager, func(from, to navigation.Route) {
		a.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("route changed")
	}, a.log)
	gate.Start()
	defer gate.Stop()

	var processErr error
	events := service.NewEventService(a.manager, a.dedup, a.refreshSkew, a.log)
	d := queue.NewDispatcher(1, eventRecorder{next: events, err: &processErr}, a.log)
	d.Start(ctx)
	if err := d.Enqueue(ctx, ev); err != nil {
		return err
	}
	d.Close()

	if processErr != nil {
		return processErr
	}
	return a.printSession()
}

// eventRecorder keeps the last processing error so the command can exit
// non-zero.
type eventRecorder struct {
	next ports.EventService
	err  *error
}

func (r eventRecorder) Process(ctx context.Context, ev ports.InboundEvent) error {
	err := r.next.Process(ctx, ev)
	if err != nil {
		*r.err = err
	}
	return err
}

// parseAssignments turns key=value pairs into a profile update. "name.first"
// and "name.last" build the nested name object. Objects, arrays, quoted
// strings, booleans and null are read as JSON; everything else, numbers
// included, stays a string so phone numbers keep their leading zeros.
func parseAssignments(args []string) (ports.ProfileUpdate, error) {
	partial := ports.ProfileUpdate{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, domain.NewValidationError("profile", fmt.Sprintf("expected key=value, got %q", arg))
		}
		var value any = raw
		if looksLikeJSON(raw) {
			var decoded any
			if json.Unmarshal([]byte(raw), &decoded) == nil {
				value = decoded
			}
		}

		if sub, found := strings.CutPrefix(key, "name."); found {
			name, _ := partial["name"].(map[string]any)
			if name == nil {
				name = map[string]any{}
				partial["name"] = name
			}
			name[sub] = raw
			continue
		}
		partial[key] = value
	}
	return partial, nil
}

func looksLikeJSON(raw string) bool {
	switch raw {
	case "true", "false", "null":
		return true
	}
	return raw != "" && strings.ContainsRune(`{["`, rune(raw[0]))
}

func (a *app) printSession() error {
	s := a.manager.Snapshot()
	return a.print(sessionOutput{Route: navigation.Select(s), Session: s})
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
