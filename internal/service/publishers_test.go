package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func writeVideo(t *testing.T, size int) string {
	t.Helper()
	b := mp4Header()
	if size > len(b) {
		b = append(b, bytes.Repeat([]byte{1}, size-len(b))...)
	}
	return writeTemp(t, t.TempDir(), "clip.mp4", b[:size])
}

func testPublication(t *testing.T, size int) Publication {
	path := writeVideo(t, size)
	return Publication{ItemID: 1, Title: "Clipper", Caption: "Clipper by @clipper", Media: Media{LocalPath: path, Source: path}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestLinkedInPublish(t *testing.T) {
	pub := testPublication(t, 100)
	var (
		mu        sync.Mutex
		uploaded  int64
		finalized []string
		polls     int
		post      map[string]any
	)

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get("LinkedIn-Version") == "" && r.Method != http.MethodPut {
			t.Errorf("%s %s missing LinkedIn-Version", r.Method, r.URL.Path)
		}
		switch {
		case r.URL.Path == "/videos" && r.URL.Query().Get("action") == "initializeUpload":
			writeJSON(w, 200, map[string]any{"value": map[string]any{
				"video":       "urn:li:video:1",
				"uploadToken": "tok",
				"uploadInstructions": []map[string]any{
					{"uploadUrl": srv.URL + "/upload/0", "firstByte": 0, "lastByte": 49},
					{"uploadUrl": srv.URL + "/upload/1", "firstByte": 50, "lastByte": 99},
				},
			}})
		case strings.HasPrefix(r.URL.Path, "/upload/"):
			n, _ := io.Copy(io.Discard, r.Body)
			uploaded += n
			w.Header().Set("ETag", "etag-"+strings.TrimPrefix(r.URL.Path, "/upload/"))
		case r.URL.Path == "/videos" && r.URL.Query().Get("action") == "finalizeUpload":
			var body struct {
				FinalizeUploadRequest struct {
					UploadedPartIDs []string `json:"uploadedPartIds"`
				} `json:"finalizeUploadRequest"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			finalized = body.FinalizeUploadRequest.UploadedPartIDs
		case r.URL.Path == "/videos/urn:li:video:1":
			polls++
			status := "PROCESSING"
			if polls > 1 {
				status = "AVAILABLE"
			}
			writeJSON(w, 200, map[string]string{"status": status})
		case r.URL.Path == "/posts":
			json.NewDecoder(r.Body).Decode(&post)
			w.Header().Set("x-restli-id", "urn:li:share:9")
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewLinkedInService(config.LinkedIn{AccessToken: "at", PersonURN: "abc"}).(*linkedInService)
	s.baseURL = srv.URL
	s.pollInterval = time.Millisecond

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if uploaded != 100 {
		t.Errorf("uploaded %d bytes, want 100", uploaded)
	}
	if len(finalized) != 2 || finalized[0] != "etag-0" || finalized[1] != "etag-1" {
		t.Errorf("finalized parts = %v", finalized)
	}
	if post["author"] != "urn:li:person:abc" || post["commentary"] != pub.Caption {
		t.Errorf("post payload = %v", post)
	}
}

func TestLinkedInPublishProcessingFailed(t *testing.T) {
	pub := testPublication(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("action") == "initializeUpload":
			writeJSON(w, 200, map[string]any{"value": map[string]any{"video": "urn:li:video:2"}})
		case r.URL.Query().Get("action") == "finalizeUpload":
		default:
			writeJSON(w, 200, map[string]string{"status": "PROCESSING_FAILED"})
		}
	}))
	defer srv.Close()

	s := NewLinkedInService(config.LinkedIn{AccessToken: "at", OrgID: "42"}).(*linkedInService)
	s.baseURL = srv.URL
	s.pollInterval = time.Millisecond

	err := s.Publish(context.Background(), pub)
	if err == nil || !strings.Contains(err.Error(), "PROCESSING_FAILED") {
		t.Fatalf("Publish error = %v, want processing failure", err)
	}
}

type staticURLs struct {
	url      string
	released int
}

func (u *staticURLs) PublicURL(ctx context.Context, source, localPath string) (string, func(), error) {
	return u.url, func() { u.released++ }, nil
}

func TestInstagramPublish(t *testing.T) {
	pub := testPublication(t, 10)
	var published bool
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.URL.Path {
		case "/biz/media":
			if r.Form.Get("media_type") != "REELS" || r.Form.Get("video_url") != "https://cdn.example/clip.mp4" {
				t.Errorf("unexpected container form: %v", r.Form)
			}
			writeJSON(w, 200, map[string]string{"id": "c1"})
		case "/c1":
			polls++
			status := "IN_PROGRESS"
			if polls > 1 {
				status = "FINISHED"
			}
			writeJSON(w, 200, map[string]string{"status_code": status})
		case "/biz/media_publish":
			published = r.Form.Get("creation_id") == "c1"
			writeJSON(w, 200, map[string]string{"id": "m1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	urls := &staticURLs{url: "https://cdn.example/clip.mp4"}
	s := NewInstagramService(config.Meta{AccessToken: "at", InstagramBusinessID: "biz"}, urls).(*instagramService)
	s.baseURL = srv.URL
	s.pollInterval = time.Millisecond

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !published {
		t.Error("container was not published")
	}
	if urls.released != 1 {
		t.Errorf("staged video released %d times, want 1", urls.released)
	}
}

func TestInstagramPublishGraphError(t *testing.T) {
	pub := testPublication(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, map[string]any{"error": map[string]any{"message": "Invalid video URL", "code": 100}})
	}))
	defer srv.Close()

	urls := &staticURLs{url: "https://cdn.example/clip.mp4"}
	s := NewInstagramService(config.Meta{AccessToken: "at", InstagramBusinessID: "biz"}, urls).(*instagramService)
	s.baseURL = srv.URL

	err := s.Publish(context.Background(), pub)
	if err == nil || !strings.Contains(err.Error(), "Invalid video URL (code 100)") {
		t.Fatalf("Publish error = %v", err)
	}
	if urls.released != 1 {
		t.Errorf("staged video released %d times after a failed publish, want 1", urls.released)
	}
}

func TestFacebookPublish(t *testing.T) {
	pub := testPublication(t, 64)
	var uploadAuth, fileSize string
	var finished bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/accounts":
			writeJSON(w, 200, map[string]any{"data": []map[string]string{
				{"id": "other", "access_token": "nope"},
				{"id": "page", "access_token": "pt"},
			}})
		case "/page/video_reels":
			r.ParseForm()
			if r.Form.Get("access_token") != "pt" {
				t.Errorf("reel call used token %q", r.Form.Get("access_token"))
			}
			if r.Form.Get("upload_phase") == "start" {
				writeJSON(w, 200, map[string]string{"video_id": "v1"})
				return
			}
			finished = r.Form.Get("video_id") == "v1" && r.Form.Get("video_state") == "PUBLISHED"
			writeJSON(w, 200, map[string]bool{"success": true})
		case "/v1":
			uploadAuth = r.Header.Get("Authorization")
			fileSize = r.Header.Get("file_size")
			writeJSON(w, 200, map[string]bool{"success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewFacebookService(config.Meta{AccessToken: "ut", FacebookPageID: "page"}, nil).(*facebookService)
	s.baseURL = srv.URL

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if uploadAuth != "OAuth pt" || fileSize != "64" {
		t.Errorf("upload headers: Authorization=%q file_size=%q", uploadAuth, fileSize)
	}
	if !finished {
		t.Error("reel was not finished")
	}
}

func TestFacebookPublishInvalidatesRejectedToken(t *testing.T) {
	pub := testPublication(t, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, map[string]any{"error": map[string]any{"message": "Session expired", "code": 190}})
	}))
	defer srv.Close()

	fetches := 0
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		fetches++
		return "pt", time.Hour, nil
	}, time.Hour)
	s := NewFacebookService(config.Meta{AccessToken: "ut", FacebookPageID: "page"}, cache).(*facebookService)
	s.baseURL = srv.URL

	for i := 0; i < 2; i++ {
		if err := s.Publish(context.Background(), pub); err == nil {
			t.Fatal("Publish succeeded against a 401")
		}
	}
	if fetches != 2 {
		t.Errorf("page token fetched %d times, want 2", fetches)
	}
}

func TestXPublish(t *testing.T) {
	pub := testPublication(t, xChunkSize+10)
	var (
		mu       sync.Mutex
		segments []string
		tweet    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			t.Errorf("%s %s is not OAuth1 signed", r.Method, r.URL.Path)
		}
		if r.URL.Path == "/tweets" {
			json.NewDecoder(r.Body).Decode(&tweet)
			writeJSON(w, 201, map[string]any{"data": map[string]string{"id": "t1"}})
			return
		}
		switch r.FormValue("command") {
		case "INIT":
			writeJSON(w, 202, map[string]any{"media_id": 77, "media_id_string": "77"})
		case "APPEND":
			segments = append(segments, r.FormValue("segment_index"))
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			writeJSON(w, 200, map[string]any{"media_id_string": "77", "processing_info": map[string]any{"state": "pending", "check_after_secs": 1}})
		case "STATUS":
			writeJSON(w, 200, map[string]any{"media_id_string": "77", "processing_info": map[string]any{"state": "succeeded"}})
		default:
			t.Errorf("unexpected command %q", r.FormValue("command"))
		}
	}))
	defer srv.Close()

	s := NewXService(config.X{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts"}).(*xService)
	s.uploadURL = srv.URL + "/upload"
	s.tweetURL = srv.URL + "/tweets"
	s.checkAfter = time.Millisecond

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(segments) != 2 || segments[0] != "0" || segments[1] != "1" {
		t.Errorf("segments = %v, want [0 1]", segments)
	}
	if tweet["text"] != pub.Caption {
		t.Errorf("tweet = %v", tweet)
	}
}

func TestTelegramChannelPublish(t *testing.T) {
	pub := testPublication(t, 32)
	var chatID, parseMode, caption string
	var gotFile bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendVideo" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		chatID = r.FormValue("chat_id")
		parseMode = r.FormValue("parse_mode")
		caption = r.FormValue("caption")
		_, _, err := r.FormFile("video")
		gotFile = err == nil
		w.Write([]byte(`{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":-100,"type":"channel"}}}`))
	}))
	defer srv.Close()

	s, err := newTelegramChannelService(config.Telegram{BotToken: "TOKEN", ChannelID: "@chan"}, srv.URL)
	if err != nil {
		t.Fatalf("newTelegramChannelService: %v", err)
	}
	pub.Caption = "Tools & <tricks>"
	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if chatID != "@chan" || parseMode != "HTML" || !gotFile {
		t.Errorf("chat_id=%q parse_mode=%q file=%v", chatID, parseMode, gotFile)
	}
	if caption != "Tools &amp; &lt;tricks&gt;" {
		t.Errorf("caption = %q", caption)
	}
}

func TestRedditPublish(t *testing.T) {
	pub := testPublication(t, 16)
	pub.Caption = "Clipper — AI Tool You Need to Try"
	var (
		submitted url.Values
		uploadKey string
	)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "crosspost/1.0") {
			t.Errorf("%s sent User-Agent %q", r.URL.Path, r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/token":
			user, pass, _ := r.BasicAuth()
			r.ParseForm()
			if user != "cid" || pass != "secret" || r.Form.Get("grant_type") != "password" {
				t.Errorf("token request auth=%s:%s form=%v", user, pass, r.Form)
			}
			writeJSON(w, 200, map[string]any{"access_token": "rt", "token_type": "bearer", "expires_in": 3600})
		case "/api/media/asset.json":
			if r.Header.Get("Authorization") != "Bearer rt" {
				t.Errorf("lease Authorization = %q", r.Header.Get("Authorization"))
			}
			writeJSON(w, 200, map[string]any{
				"args":  map[string]any{"action": srv.URL + "/s3", "fields": []map[string]string{{"name": "key", "value": "k1"}}},
				"asset": map[string]string{"asset_id": "a1"},
			})
		case "/s3":
			r.ParseMultipartForm(1 << 20)
			uploadKey = r.FormValue("key")
			w.WriteHeader(http.StatusCreated)
		case "/api/submit":
			r.ParseForm()
			submitted = r.Form
			writeJSON(w, 200, map[string]any{"json": map[string]any{"errors": []any{}, "data": map[string]string{"id": "p1", "url": "https://reddit.com/p1"}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Reddit{ClientID: "cid", ClientSecret: "secret", Username: "bot", Password: "pw", Subreddit: "AItools"}
	s := newRedditService(cfg, nil, srv.URL+"/token", srv.URL)

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if uploadKey != "k1" {
		t.Errorf("upload key = %q", uploadKey)
	}
	if submitted.Get("sr") != "AItools" || submitted.Get("kind") != "video" || submitted.Get("title") != pub.Caption {
		t.Errorf("submit form = %v", submitted)
	}
	if submitted.Get("url") != redditVideoHost+"a1" {
		t.Errorf("submit url = %q", submitted.Get("url"))
	}
}

func TestRedditPublishRejected(t *testing.T) {
	pub := testPublication(t, 16)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/media/asset.json":
			writeJSON(w, 200, map[string]any{"args": map[string]any{"action": srv.URL + "/s3"}, "asset": map[string]string{"asset_id": "a1"}})
		case "/s3":
			w.WriteHeader(http.StatusNoContent)
		case "/api/submit":
			writeJSON(w, 200, map[string]any{"json": map[string]any{"errors": [][]string{{"SUBREDDIT_NOEXIST", "that community doesn't exist", "sr"}}}})
		}
	}))
	defer srv.Close()

	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) { return "rt", time.Hour, nil }, time.Hour)
	s := newRedditService(config.Reddit{Subreddit: "nope"}, cache, srv.URL+"/token", srv.URL)

	err := s.Publish(context.Background(), pub)
	if err == nil || !strings.Contains(err.Error(), "SUBREDDIT_NOEXIST") {
		t.Fatalf("Publish error = %v", err)
	}
}

func newTestYoutubeService(tokenURL, apiURL string) *youtubeService {
	s := NewYoutubeService(config.Youtube{ClientID: "cid", ClientSecret: "secret", RefreshToken: "rt"},
		option.WithEndpoint(apiURL+"/")).(*youtubeService)
	s.conf.Endpoint = oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	return s
}

func TestYoutubePublish(t *testing.T) {
	pub := testPublication(t, 64)
	pub.Title = strings.Repeat("n", 120)

	refreshes := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt" {
			t.Errorf("unexpected refresh form: %v", r.Form)
		}
		refreshes++
		writeJSON(w, 200, map[string]any{"access_token": "yt-token", "token_type": "Bearer", "expires_in": 3600})
	}))
	defer tokenSrv.Close()

	var body string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		auth = r.Header.Get("Authorization")
		writeJSON(w, 200, map[string]string{"id": "yt123"})
	}))
	defer srv.Close()

	s := newTestYoutubeService(tokenSrv.URL, srv.URL)
	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if auth != "Bearer yt-token" {
		t.Errorf("Authorization = %q", auth)
	}
	wantTitle := strings.Repeat("n", youtubeTitleLimit-len(shortsTag)) + shortsTag
	if !strings.Contains(body, `"title":"`+wantTitle+`"`) {
		t.Errorf("upload metadata missing title %q", wantTitle)
	}
	if !strings.Contains(body, `"privacyStatus":"public"`) {
		t.Error("upload metadata missing public privacy status")
	}

	if err := s.Publish(context.Background(), pub); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if refreshes != 1 {
		t.Errorf("refreshed %d times, want the token reused", refreshes)
	}
}

func TestYoutubePublishRefreshHonoursContext(t *testing.T) {
	release := make(chan struct{})
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer tokenSrv.Close()
	defer close(release)

	uploads := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
	}))
	defer srv.Close()

	s := newTestYoutubeService(tokenSrv.URL, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Publish(ctx, testPublication(t, 64))
	if err == nil || !strings.Contains(err.Error(), "refreshing YouTube token") {
		t.Fatalf("Publish error = %v, want a refresh failure", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("refresh ignored the publish deadline, took %v", elapsed)
	}
	if uploads != 0 {
		t.Errorf("upload attempted without a token")
	}
}
