package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docconnect/videocall/internal/call"
	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/logging"
	"github.com/docconnect/videocall/internal/media"
	"github.com/docconnect/videocall/internal/peer"
	"github.com/docconnect/videocall/internal/transport"
	"github.com/docconnect/videocall/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	flagServer      string
	flagUser        string
	flagRoom        string
	flagAppointment string
	flagSTUN        string
	flagTURN        string
	flagTURNUser    string
	flagTURNPass    string
	flagRelay       bool
	flagNoAutoRelay bool
	flagWatchdog    time.Duration
	flagAudioFile   string
	flagVideoFile   string
	flagNoCamera    bool
	flagNoUI        bool
	flagAutoCall    bool
	flagLogFile     string
)

var callCmd = &cobra.Command{
	Use:     "call",
	Aliases: []string{"c"},
	Short:   "Join an appointment room and call the other participant",
	Long: `Join a room on the signaling server and negotiate a WebRTC call with
the other participant. Audio and video come from files or silence.

Examples:
  videocall call --user doctor-1 --appointment 42
  videocall call --user patient-7 --room appointment_42 --auto-call
  videocall call --user doctor-1 --appointment 42 --relay --log-file call.log`,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := resolveRoom()
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), room)
	},
}

func resolveRoom() (string, error) {
	switch {
	case flagRoom != "" && flagAppointment != "":
		return "", fmt.Errorf("use either --room or --appointment, not both")
	case flagAppointment != "":
		return call.RoomIDForAppointment(flagAppointment), nil
	case flagRoom != "":
		return flagRoom, nil
	}
	return "", fmt.Errorf("no room specified: pass --room or --appointment")
}

func runCall(ctx context.Context, room string) error {
	cfg, err := LoadConfig(config.Options{
		ServerURL:   flagServer,
		UserID:      flagUser,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		DetectRelay: !flagNoAutoRelay,
		Watchdog:    flagWatchdog,
	})
	if err != nil {
		return err
	}

	headless := flagNoUI || !term.IsTerminal(int(os.Stdout.Fd()))

	log, closeLog, err := openLog(cfg.Env, headless)
	if err != nil {
		return err
	}
	defer closeLog()

	devices := media.NewSyntheticDevices(media.SyntheticConfig{
		AudioFile: flagAudioFile,
		VideoFile: flagVideoFile,
		DenyVideo: flagNoCamera,
	}, log)

	factory, err := peer.NewFactory(peer.FactoryConfig{VideoBitrateKbps: cfg.VideoBitrateKbps}, log)
	if err != nil {
		return err
	}

	client := transport.NewClient(transport.Config{
		URL:               cfg.ServerURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}, log)

	snapshots := make(chan call.Snapshot, 32)
	session := call.NewSession(call.Config{
		UserID:             cfg.UserID,
		ICEServers:         cfg.ICE.Servers(),
		ICETransportPolicy: cfg.ICE.Policy(),
		Trickle:            cfg.Trickle,
		WatchdogTimeout:    cfg.WatchdogTimeout,
		ForceConnectDelay:  cfg.ForceConnectDelay,
		AutoCall:           flagAutoCall,
	}, call.Deps{
		Signaler:    client,
		Media:       media.NewManager(devices, log),
		Negotiators: factory,
		Log:         log,
		OnChange: func(s call.Snapshot) {
			select {
			case snapshots <- s:
			default:
			}
		},
	})
	defer func() {
		session.Close()
		client.Close()
	}()

	client.SetListener(call.NewSupervisor(session, log))

	stopSpinner := ui.RunConnectionSpinner("Connecting to signaling server...")
	err = client.Connect(ctx)
	stopSpinner()
	if err != nil {
		return call.NewError("connect to server", err)
	}
	ui.PrintSuccess(fmt.Sprintf("Connected as %s", client.ConnectionID()))

	go transport.NewHandler(client, session, log).Start()

	if err := session.JoinRoom(ctx, room); err != nil {
		if !errors.Is(err, media.ErrMediaUnavailable) {
			return err
		}
		ui.PrintWarning("No camera or microphone available, staying in the room without media")
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()

	if headless {
		runHeadless(callCtx, session, snapshots)
	} else if err := ui.RunCall(callCtx, ui.NewCallModel(callCtx, session, snapshots)); err != nil {
		return err
	}

	if err := client.Err(); err != nil {
		return call.NewError("signaling", err)
	}
	return nil
}

// runHeadless prints state changes until ctx is done.
func runHeadless(ctx context.Context, session *call.Session, snapshots <-chan call.Snapshot) {
	last := session.Snapshot()
	ui.PrintInfo(fmt.Sprintf("Joined %s, state %s", last.RoomID, last.State))
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-snapshots:
			if s.Seq <= last.Seq {
				continue
			}
			if s.State != last.State || s.Target != last.Target {
				reportState(s)
			}
			last = s
		}
	}
}

func reportState(s call.Snapshot) {
	switch s.State {
	case call.Connected:
		ui.PrintSuccess(fmt.Sprintf("Connected to %s", s.Target))
	case call.Failed:
		msg := "Call failed"
		if s.LastError != nil {
			msg += ": " + s.LastError.Error()
		}
		ui.PrintError(msg)
	default:
		ui.PrintInfo(fmt.Sprintf("Call %s", s.State))
	}
}

// openLog picks the log destination. The terminal UI owns stdout, so without
// --log-file its logs are dropped.
func openLog(env string, headless bool) (*slog.Logger, func(), error) {
	switch {
	case flagLogFile != "":
		f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return logging.Setup(env, f), func() { f.Close() }, nil
	case headless:
		return logging.Setup(env, os.Stderr), func() {}, nil
	default:
		return logging.Setup(env, io.Discard), func() {}, nil
	}
}

// LoadConfig loads the client configuration and checks that it is usable.
func LoadConfig(opts config.Options) (*config.Client, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}
	if cfg.ICE.TransportPolicy == config.PolicyRelay && len(cfg.ICE.TURNServers) == 0 {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&flagServer, "server", "S", "", "Signaling websocket URL")
	callCmd.Flags().StringVarP(&flagUser, "user", "U", "", "Your user id")
	callCmd.Flags().StringVarP(&flagRoom, "room", "R", "", "Room id to join")
	callCmd.Flags().StringVarP(&flagAppointment, "appointment", "a", "", "Appointment id (joins appointment_<id>)")
	callCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	callCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	callCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	callCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	callCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	callCmd.Flags().BoolVar(&flagNoAutoRelay, "no-auto-relay", false, "Do not force relay mode when a VPN or CGNAT is detected")
	callCmd.Flags().DurationVar(&flagWatchdog, "watchdog", 0, "Negotiation timeout (default 10s)")
	callCmd.Flags().StringVar(&flagAudioFile, "audio-file", "", "Ogg/Opus file to send as microphone")
	callCmd.Flags().StringVar(&flagVideoFile, "video-file", "", "IVF/VP8 file to send as camera")
	callCmd.Flags().BoolVar(&flagNoCamera, "no-camera", false, "Act as if camera permission was denied")
	callCmd.Flags().BoolVar(&flagNoUI, "no-ui", false, "Print state changes instead of the interactive view (implied when stdout is not a terminal)")
	callCmd.Flags().BoolVar(&flagAutoCall, "auto-call", false, "Call the first participant found in the room")
	callCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Write logs to this file")
}
