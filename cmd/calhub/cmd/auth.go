package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"calhub/internal/adapter/outlook"
)

const redirectPort = "8085"

var (
	authProvider string
	authEmail    string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize a calendar owner with a provider",
	Long: `auth runs the OAuth consent flow for one calendar owner and saves the
resulting token under the provider's token directory, keyed by email. The
server picks the token up on the owner's next fetch; no restart is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuth(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(authCmd)

	authCmd.Flags().StringVar(&authProvider, "provider", "", "provider to authorize with (google or outlook)")
	authCmd.Flags().StringVar(&authEmail, "email", "", "calendar owner's email; names the token file")
	authCmd.MarkFlagRequired("provider")
	authCmd.MarkFlagRequired("email")
}

func runAuth(ctx context.Context) error {
	var config *oauth2.Config
	var tokenDir string

	switch authProvider {
	case "google":
		creds := expandPath(viper.GetString("providers.google.credentials_file"))
		b, err := os.ReadFile(creds)
		if err != nil {
			return fmt.Errorf("read credentials file %s: %w", creds, err)
		}
		config, err = googleoauth.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
		if err != nil {
			return fmt.Errorf("parse credentials: %w", err)
		}
		tokenDir = expandPath(viper.GetString("providers.google.token_dir"))
	case "outlook":
		clientID := viper.GetString("providers.outlook.client_id")
		if clientID == "" {
			return errors.New("providers.outlook.client_id is not configured")
		}
		config = outlook.OAuthConfig(clientID, viper.GetString("providers.outlook.tenant_id"))
		tokenDir = expandPath(viper.GetString("providers.outlook.token_dir"))
	default:
		return fmt.Errorf("unknown provider %q (want google or outlook)", authProvider)
	}

	config.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	tok, err := getTokenViaLocalServer(ctx, config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(tokenDir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tokenFile := filepath.Join(tokenDir, authEmail+".json")
	if err := saveToken(tokenFile, tok); err != nil {
		return err
	}

	fmt.Printf("Token for %s saved to %s\n", authEmail, tokenFile)
	return nil
}

// getTokenViaLocalServer runs the browser consent flow with a temporary local
// HTTP server receiving the redirect.
func getTokenViaLocalServer(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("authorization denied: %s", errMsg)
			http.Error(w, "Authorization denied. You can close this window.", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- errors.New("no authorization code in callback")
			http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
			<h2>Authorization successful</h2>
			<p>You can close this window and return to the terminal.</p>
		</body></html>`)
		codeChan <- code
	})

	srv := &http.Server{Addr: "localhost:" + redirectPort, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer srv.Close()

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Println("Opening browser for authorization...")
	fmt.Println("If it does not open, visit:")
	fmt.Println(authURL)
	openBrowser(authURL)

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return nil, err
	case <-time.After(5 * time.Minute):
		return nil, errors.New("timed out waiting for authorization")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// openBrowser tries to open the URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	cmd.Start()
}

// saveToken writes the OAuth token to a JSON file.
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
