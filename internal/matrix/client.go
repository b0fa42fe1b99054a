// ABOUTME: Matrix client construction and login for tool-bot
// ABOUTME: Supports password login with a persisted device id or a static access token

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/tool-bot/internal/config"
)

// networkTimeout bounds single Matrix API calls made outside the sync loop.
const networkTimeout = 10 * time.Second

// deviceDisplayName is shown in the account's session list.
const deviceDisplayName = "tool-bot"

// ErrNoCredentials is returned when neither a password nor a token is set.
var ErrNoCredentials = errors.New("matrix password or access token required")

// Connect creates a logged-in client. With an access token the device id
// comes from the config or from whoami. With a password the bot logs in and
// reuses the device id stored in the data directory so the crypto store
// stays valid across restarts.
func Connect(ctx context.Context, cfg config.MatrixConfig, logger *slog.Logger) (*mautrix.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix")

	userID := id.UserID(cfg.UserID)
	client, err := mautrix.NewClient(cfg.Homeserver, userID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	if client.StateStore == nil {
		client.StateStore = mautrix.NewMemoryStateStore()
	}

	callCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	switch {
	case cfg.AccessToken != "":
		client.DeviceID = id.DeviceID(cfg.DeviceID)
		if client.DeviceID == "" {
			who, err := client.Whoami(callCtx)
			if err != nil {
				return nil, fmt.Errorf("whoami: %w", err)
			}
			client.DeviceID = who.DeviceID
		}
		logger.Info("using access token", "user", cfg.UserID, "device", client.DeviceID)

	case cfg.Password != "":
		deviceID := cfg.DeviceID
		if deviceID == "" {
			deviceID = readDeviceID(cfg.DataDir, cfg.UserID)
		}
		resp, err := client.Login(callCtx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: localpart(cfg.UserID),
			},
			Password:                 cfg.Password,
			DeviceID:                 id.DeviceID(deviceID),
			InitialDeviceDisplayName: deviceDisplayName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		if err := writeDeviceID(cfg.DataDir, cfg.UserID, resp.DeviceID.String()); err != nil {
			logger.Warn("failed to persist device id", "error", err)
		}
		logger.Info("logged in", "user", resp.UserID, "device", resp.DeviceID)

	default:
		return nil, ErrNoCredentials
	}

	return client, nil
}

// localpart returns the user part of a Matrix user id.
// Example: @bot:example.org -> bot
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}

func deviceIDPath(dataDir, userID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("device-%s", slugify(userID)))
}

func readDeviceID(dataDir, userID string) string {
	if dataDir == "" {
		return ""
	}
	data, err := os.ReadFile(deviceIDPath(dataDir, userID))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeDeviceID(dataDir, userID, deviceID string) error {
	if dataDir == "" || deviceID == "" {
		return nil
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return os.WriteFile(deviceIDPath(dataDir, userID), []byte(deviceID+"\n"), 0600)
}
