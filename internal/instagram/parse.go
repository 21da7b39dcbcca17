package instagram

import "fmt"

// maxReels caps how many reels one profile fetch yields.
const maxReels = 5

// Reel is one video post with its engagement metrics.
type Reel struct {
	URL      string
	Views    int
	Likes    int
	Comments int
	Caption  string
}

// profileResponse mirrors the slice of the web_profile_info payload we read.
type profileResponse struct {
	Data struct {
		User struct {
			TimelineMedia struct {
				Edges []struct {
					Node mediaNode `json:"node"`
				} `json:"edges"`
			} `json:"edge_owner_to_timeline_media"`
		} `json:"user"`
	} `json:"data"`
}

type mediaNode struct {
	Shortcode      string `json:"shortcode"`
	IsVideo        bool   `json:"is_video"`
	PlayCount      int    `json:"play_count"`
	VideoViewCount int    `json:"video_view_count"`
	LikedBy        struct {
		Count int `json:"count"`
	} `json:"edge_liked_by"`
	Comments struct {
		Count int `json:"count"`
	} `json:"edge_media_to_comment"`
	CaptionEdges struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
}

// parseReels extracts video posts from a profile payload. View counts fall
// back from play_count to video_view_count to like_count, since the API
// omits play counts for some accounts.
func parseReels(payload profileResponse) []Reel {
	var reels []Reel
	for _, edge := range payload.Data.User.TimelineMedia.Edges {
		node := edge.Node
		if !node.IsVideo {
			continue
		}

		views := node.PlayCount
		if views == 0 {
			views = node.VideoViewCount
		}
		if views == 0 {
			views = node.LikedBy.Count
		}

		caption := ""
		if len(node.CaptionEdges.Edges) > 0 {
			caption = node.CaptionEdges.Edges[0].Node.Text
		}

		reels = append(reels, Reel{
			URL:      fmt.Sprintf("https://www.instagram.com/reel/%s/", node.Shortcode),
			Views:    views,
			Likes:    node.LikedBy.Count,
			Comments: node.Comments.Count,
			Caption:  caption,
		})
		if len(reels) == maxReels {
			break
		}
	}
	return reels
}
