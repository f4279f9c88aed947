package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// HTTPClient is the concrete posts-API adapter, authenticating with an
// OAuth2 client-credentials grant the way the original Python prototype's
// Twitter client did (a bearer token issued by a token endpoint).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient. tokenURL, clientID and clientSecret
// configure the client-credentials grant used to authenticate every
// request; the resulting *http.Client attaches and refreshes the bearer
// token transparently.
func NewHTTPClient(baseURL, tokenURL, clientID, clientSecret string) *HTTPClient {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: cfg.Client(context.Background()),
	}
}

type tweetsResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

// GetUserTweets fetches the user's most recent posts.
func (c *HTTPClient) GetUserTweets(ctx context.Context, userID string, limit int) ([]Post, error) {
	url := fmt.Sprintf("%s/users/%s/tweets?max_results=%d", c.baseURL, userID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building tweets request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling posts API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var parsed tweetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding tweets response: %w", err)
	}

	posts := make([]Post, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		posts = append(posts, Post{ID: d.ID, UserID: userID, CreatedAt: d.CreatedAt, Text: d.Text})
	}
	return posts, nil
}

type followingPage struct {
	Data []struct {
		ID          string  `json:"id"`
		Username    string  `json:"username"`
		Name        string  `json:"name"`
		URL         *string `json:"url"`
		Description *string `json:"description"`
		Verified    bool    `json:"verified"`
		Protected   bool    `json:"protected"`
	} `json:"data"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// IterateFollowing pages through the user's follow-graph, calling yield once
// per followed account until yield returns false or the pages are exhausted.
func (c *HTTPClient) IterateFollowing(ctx context.Context, userID string, yield func(User) bool) error {
	token := ""
	for {
		url := fmt.Sprintf("%s/users/%s/following?max_results=1000", c.baseURL, userID)
		if token != "" {
			url += "&pagination_token=" + token
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building following request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("calling posts API: %w", err)
		}

		if err := c.checkStatus(resp); err != nil {
			_ = resp.Body.Close()
			return err
		}

		var page followingPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decoding following page: %w", err)
		}

		for _, d := range page.Data {
			u := User{
				ID: d.ID, Username: d.Username, Name: d.Name, URL: d.URL,
				Description: d.Description, Verified: d.Verified, Protected: d.Protected,
			}
			if !yield(u) {
				return nil
			}
		}

		if page.Meta.NextToken == "" {
			return nil
		}
		token = page.Meta.NextToken
	}
}

type userLookupResponse struct {
	Data *struct {
		ID          string  `json:"id"`
		Username    string  `json:"username"`
		Name        string  `json:"name"`
		URL         *string `json:"url"`
		Description *string `json:"description"`
		Verified    bool    `json:"verified"`
		Protected   bool    `json:"protected"`
	} `json:"data"`
}

// GetUserByUsername looks a user up by handle.
func (c *HTTPClient) GetUserByUsername(ctx context.Context, username string) (User, bool, error) {
	url := fmt.Sprintf("%s/users/by/username/%s", c.baseURL, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, false, fmt.Errorf("building user lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, false, fmt.Errorf("calling posts API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return User{}, false, nil
	}
	if err := c.checkStatus(resp); err != nil {
		return User{}, false, err
	}

	var parsed userLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return User{}, false, fmt.Errorf("decoding user lookup response: %w", err)
	}
	if parsed.Data == nil {
		return User{}, false, nil
	}

	d := parsed.Data
	return User{
		ID: d.ID, Username: d.Username, Name: d.Name, URL: d.URL,
		Description: d.Description, Verified: d.Verified, Protected: d.Protected,
	}, true, nil
}

// checkStatus maps a non-2xx response to RateLimited or RequestError.
func (c *HTTPClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resetAt := time.Now().Add(15 * time.Minute)
		if raw := resp.Header.Get("X-Rate-Limit-Reset"); raw != "" {
			if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
				resetAt = time.Unix(epoch, 0)
			}
		}
		return &RateLimited{ResetAt: resetAt}
	}
	return &RequestError{StatusCode: resp.StatusCode, Message: resp.Status}
}
