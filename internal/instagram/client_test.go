package instagram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const profileFixture = `{
	"data": {
		"user": {
			"edge_owner_to_timeline_media": {
				"edges": [
					{"node": {
						"shortcode": "AAA",
						"is_video": true,
						"play_count": 5000,
						"video_view_count": 4800,
						"edge_liked_by": {"count": 300},
						"edge_media_to_comment": {"count": 40},
						"edge_media_to_caption": {"edges": [{"node": {"text": "first reel"}}]}
					}},
					{"node": {
						"shortcode": "BBB",
						"is_video": false,
						"edge_liked_by": {"count": 900},
						"edge_media_to_comment": {"count": 10},
						"edge_media_to_caption": {"edges": []}
					}},
					{"node": {
						"shortcode": "CCC",
						"is_video": true,
						"play_count": 0,
						"video_view_count": 1200,
						"edge_liked_by": {"count": 80},
						"edge_media_to_comment": {"count": 5},
						"edge_media_to_caption": {"edges": []}
					}}
				]
			}
		}
	}
}`

func TestProfileReels(t *testing.T) {
	var gotPath, gotCookie, gotAppID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotCookie = r.Header.Get("Cookie")
		gotAppID = r.Header.Get("X-IG-App-ID")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, profileFixture)
	}))
	defer srv.Close()

	c := New(srv.URL)
	reels, err := c.ProfileReels(context.Background(), "natgeo", "sessionid=abc")
	if err != nil {
		t.Fatalf("ProfileReels: %v", err)
	}

	if gotPath != "/api/v1/users/web_profile_info/?username=natgeo" {
		t.Errorf("request path = %q", gotPath)
	}
	if gotCookie != "sessionid=abc" {
		t.Errorf("cookie = %q, want sessionid=abc", gotCookie)
	}
	if gotAppID == "" {
		t.Error("X-IG-App-ID header missing")
	}

	// The photo post is skipped; only the two videos come back.
	if len(reels) != 2 {
		t.Fatalf("got %d reels, want 2", len(reels))
	}
	first := reels[0]
	if first.URL != "https://www.instagram.com/reel/AAA/" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Views != 5000 || first.Likes != 300 || first.Comments != 40 {
		t.Errorf("metrics = %d/%d/%d, want 5000/300/40", first.Views, first.Likes, first.Comments)
	}
	if first.Caption != "first reel" {
		t.Errorf("caption = %q", first.Caption)
	}
	// play_count absent: falls back to video_view_count.
	if reels[1].Views != 1200 {
		t.Errorf("fallback views = %d, want 1200", reels[1].Views)
	}
}

func TestProfileReelsWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Cookie"]; ok {
			t.Errorf("unexpected Cookie header %q", r.Header.Get("Cookie"))
		}
		fmt.Fprint(w, `{"data":{"user":{"edge_owner_to_timeline_media":{"edges":[]}}}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	reels, err := c.ProfileReels(context.Background(), "natgeo", "")
	if err != nil {
		t.Fatalf("ProfileReels: %v", err)
	}
	if len(reels) != 0 {
		t.Errorf("got %d reels, want 0", len(reels))
	}
}

func TestProfileReelsStatusError(t *testing.T) {
	codes := []int{401, 404, 429, 500}
	for _, code := range codes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := New(srv.URL)
		_, err := c.ProfileReels(context.Background(), "natgeo", "")
		srv.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("status %d: got %v, want StatusError", code, err)
		}
		if statusErr.Code != code {
			t.Errorf("code = %d, want %d", statusErr.Code, code)
		}
	}
}

func TestProfileReelsUsernameEscaped(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("username")
		fmt.Fprint(w, `{"data":{"user":{"edge_owner_to_timeline_media":{"edges":[]}}}}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.ProfileReels(context.Background(), "nat geo&x=1", ""); err != nil {
		t.Fatalf("ProfileReels: %v", err)
	}
	if gotQuery != "nat geo&x=1" {
		t.Errorf("decoded username = %q", gotQuery)
	}
}
