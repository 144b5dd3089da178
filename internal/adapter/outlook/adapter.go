// Package outlook fetches events from Microsoft Outlook / Office 365 through
// the official Microsoft Graph SDK. Each calendar owner has a saved OAuth
// token (see the auth command); the adapter keeps one Graph client per owner.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"calhub/internal/core"
)

type Adapter struct {
	clientID string
	tenantID string
	tokenDir string

	mu     sync.Mutex
	owners map[string]*ownerClient
}

// ownerClient bridges one owner's saved OAuth2 token into the Azure SDK's
// TokenCredential interface, refreshing and re-persisting it when expired.
type ownerClient struct {
	config    *oauth2.Config
	tokenFile string

	mu     sync.Mutex
	token  *oauth2.Token
	client *msgraphsdk.GraphServiceClient
}

func New(clientID, tenantID, tokenDir string) *Adapter {
	if tenantID == "" {
		tenantID = "common"
	}
	return &Adapter{
		clientID: clientID,
		tenantID: tenantID,
		tokenDir: tokenDir,
		owners:   make(map[string]*ownerClient),
	}
}

func (a *Adapter) Provider() core.Provider { return core.ProviderOutlook }

// OAuthConfig returns the OAuth2 configuration for the Microsoft identity
// platform. The auth command uses it for the initial flow.
func (a *Adapter) OAuthConfig() *oauth2.Config {
	return OAuthConfig(a.clientID, a.tenantID)
}

// OAuthConfig builds the Microsoft identity platform OAuth2 configuration.
func OAuthConfig(clientID, tenantID string) *oauth2.Config {
	if tenantID == "" {
		tenantID = "common"
	}
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: microsoft.AzureADEndpoint(tenantID),
		Scopes: []string{
			"https://graph.microsoft.com/Calendars.Read",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
	}
}

// clientFor returns the Graph client for an owner, creating it from the
// saved token on first use.
func (a *Adapter) clientFor(ownerEmail string) (*msgraphsdk.GraphServiceClient, error) {
	a.mu.Lock()
	owner, ok := a.owners[ownerEmail]
	if !ok {
		owner = &ownerClient{
			config:    a.OAuthConfig(),
			tokenFile: filepath.Join(a.tokenDir, ownerEmail+".json"),
		}
		a.owners[ownerEmail] = owner
	}
	a.mu.Unlock()

	return owner.graphClient(ownerEmail)
}

func (o *ownerClient) graphClient(ownerEmail string) (*msgraphsdk.GraphServiceClient, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	tok, err := tokenFromFile(o.tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no saved token for %s (run 'calhub auth --provider outlook'): %w", ownerEmail, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token file %s has no access token", o.tokenFile)
	}
	o.token = tok

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(o, []string{
		"https://graph.microsoft.com/.default",
	})
	if err != nil {
		return nil, fmt.Errorf("create graph client: %w", err)
	}
	o.client = client
	return client, nil
}

// GetToken implements azcore.TokenCredential.
func (o *ownerClient) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	tok, err := o.accessToken(ctx)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	o.mu.Lock()
	expiry := o.token.Expiry
	o.mu.Unlock()
	return azcore.AccessToken{Token: tok, ExpiresOn: expiry}, nil
}

// accessToken returns a valid access token, refreshing if expired.
func (o *ownerClient) accessToken(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.token.Valid() {
		return o.token.AccessToken, nil
	}

	newTok, err := o.config.TokenSource(ctx, o.token).Token()
	if err != nil {
		return "", fmt.Errorf("token expired and refresh failed for %s: %w", o.tokenFile, err)
	}
	o.token = newTok

	// Persist the refreshed token
	if f, err := os.Create(o.tokenFile); err == nil {
		json.NewEncoder(f).Encode(newTok)
		f.Close()
	}

	return newTok.AccessToken, nil
}

// tokenFromFile reads an OAuth token from a JSON file.
func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
