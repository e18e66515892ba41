package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/kamaleddin/threadify/model"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"golang.org/x/oauth2"
)

const (
	CreatePostUri    = "https://api.twitter.com/2/tweets"
	MediaUploadUri   = "https://upload.twitter.com/1.1/media/upload.json"
	MediaMetadataUri = "https://upload.twitter.com/1.1/media/metadata/create.json"
)

// XClient publishes posts through the X v2 API.
type XClient struct {
	// HttpClient that is used to actually make the request. The call must
	// itself be bounded, the orchestrator only bounds retries.
	client *http.Client

	// OAuth endpoint config used to refresh expired account tokens. May be
	// nil, in which case access tokens are used as-is.
	oauthConfig *oauth2.Config
}

func NewXClient(client *http.Client, oauthConfig *oauth2.Config) *XClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &XClient{
		client:      client,
		oauthConfig: oauthConfig,
	}
}

type createPostPayload struct {
	Text  string        `json:"text"`
	Reply *replyPayload `json:"reply,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
}

type replyPayload struct {
	InReplyToTweetId string `json:"in_reply_to_tweet_id"`
}

type mediaPayload struct {
	MediaIds []string `json:"media_ids"`
}

type createPostResponse struct {
	Data struct {
		Id string `json:"id"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Publish performs one create-post call. Failures are returned as
// *PublishError so the caller can decide whether to retry.
func (c *XClient) Publish(ctx context.Context, req PublishRequest) (string, error) {
	token, err := c.accountToken(ctx, req.Account)
	if err != nil {
		return "", NewPermanent("no usable credentials: " + err.Error())
	}

	payload := createPostPayload{Text: req.Text}
	if req.ReplyToRemoteId != "" {
		payload.Reply = &replyPayload{InReplyToTweetId: req.ReplyToRemoteId}
	}

	if req.MediaUrl != "" {
		mediaId, err := c.uploadMedia(ctx, token, req.MediaUrl, req.MediaAlt)
		if err != nil {
			// Media is decoration, a failed upload should not sink the post.
			Logger.Log.Warnf("media upload failed for %s: %v", req.MediaUrl, err)
		} else {
			payload.Media = &mediaPayload{MediaIds: []string{mediaId}}
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", NewPermanent("cannot encode payload: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", CreatePostUri, bytes.NewReader(body))
	if err != nil {
		return "", NewPermanent(err.Error())
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", NewTransient(err.Error())
	}
	defer res.Body.Close()

	resBody, _ := ioutil.ReadAll(res.Body)

	if res.StatusCode == http.StatusTooManyRequests {
		return "", NewRateLimited("rate limit exceeded", retryAfterFrom(res))
	}
	if res.StatusCode >= 500 {
		return "", NewTransient("server error: " + res.Status)
	}
	if res.StatusCode >= 400 {
		return "", NewPermanent(apiErrorMessage(resBody, res.Status))
	}

	parsed := createPostResponse{}
	if err := json.Unmarshal(resBody, &parsed); err != nil || parsed.Data.Id == "" {
		return "", NewTransient("malformed create post response")
	}

	return parsed.Data.Id, nil
}

// accountToken resolves the bearer token for the account, refreshing it
// through the oauth2 config when expired.
func (c *XClient) accountToken(ctx context.Context, account *model.Account) (string, error) {
	tok := &oauth2.Token{
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Expiry:       account.TokenExpiry,
	}
	if c.oauthConfig == nil {
		return tok.AccessToken, nil
	}
	fresh, err := c.oauthConfig.TokenSource(ctx, tok).Token()
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// retryAfterFrom reads the platform's rate limit reset signal. Zero when
// absent or unparseable.
func retryAfterFrom(res *http.Response) time.Duration {
	if v := res.Header.Get("retry-after"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := res.Header.Get("x-rate-limit-reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			until := time.Until(time.Unix(epoch, 0))
			if until > 0 {
				return until
			}
		}
	}
	return 0
}

func apiErrorMessage(body []byte, fallback string) string {
	parsed := createPostResponse{}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return parsed.Errors[0].Message
	}
	return "failed to post: " + fallback
}

// uploadMedia fetches the media bytes and uploads them, returning the media
// id. Alt text is attached best effort.
func (c *XClient) uploadMedia(ctx context.Context, token, mediaUrl, alt string) (string, error) {
	mediaReq, err := http.NewRequestWithContext(ctx, "GET", mediaUrl, nil)
	if err != nil {
		return "", err
	}
	mediaRes, err := c.client.Do(mediaReq)
	if err != nil {
		return "", err
	}
	defer mediaRes.Body.Close()
	mediaBytes, err := ioutil.ReadAll(mediaRes.Body)
	if err != nil {
		return "", err
	}

	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)
	part, err := writer.CreateFormField("media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(mediaBytes); err != nil {
		return "", err
	}
	writer.Close()

	uploadReq, err := http.NewRequestWithContext(ctx, "POST", MediaUploadUri, form)
	if err != nil {
		return "", err
	}
	uploadReq.Header.Set("Authorization", "Bearer "+token)
	uploadReq.Header.Set("Content-Type", writer.FormDataContentType())

	uploadRes, err := c.client.Do(uploadReq)
	if err != nil {
		return "", err
	}
	defer uploadRes.Body.Close()

	uploadBody, err := ioutil.ReadAll(uploadRes.Body)
	if err != nil {
		return "", err
	}

	parsed := struct {
		MediaIdString string `json:"media_id_string"`
	}{}
	if err := json.Unmarshal(uploadBody, &parsed); err != nil || parsed.MediaIdString == "" {
		return "", NewTransient("malformed media upload response")
	}

	if alt != "" {
		c.attachAltText(ctx, token, parsed.MediaIdString, alt)
	}

	return parsed.MediaIdString, nil
}

func (c *XClient) attachAltText(ctx context.Context, token, mediaId, alt string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"media_id": mediaId,
		"alt_text": map[string]string{"text": alt},
	})
	req, err := http.NewRequestWithContext(ctx, "POST", MediaMetadataUri, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		Logger.Log.Warnf("alt text attach failed: %v", err)
		return
	}
	res.Body.Close()
}
