package alibaba

import (
	"context"

	"github.com/billlvtech/icbu-broker/internal/types"
)

// =============================================================================
// PHOTOBANK
// =============================================================================

// ListImagesOptions narrows a photobank query. Zero values are omitted.
type ListImagesOptions struct {
	LocationType string
	PageSize     int
	CurrentPage  int
	GroupID      string
	ExtraContext map[string]any
}

// PhotobankImage is one entry of the photobank list.
type PhotobankImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

// compact drops nil entries so nested JSON parameters only carry set keys.
func compact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// ListImages queries the seller's photobank.
func (s *Service) ListImages(ctx context.Context, token string, opts ListImagesOptions) (Response, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.CurrentPage <= 0 {
		opts.CurrentPage = 1
	}
	return s.caller.Call(ctx, "alibaba.icbu.photobank.list", token, map[string]any{
		"location_type": optional(opts.LocationType),
		"page_size":     opts.PageSize,
		"current_page":  opts.CurrentPage,
		"group_id":      optional(opts.GroupID),
		"extra_context": optionalMap(opts.ExtraContext),
	}, "POST")
}

// PhotobankImages extracts the image entries of a photobank.list response.
// A single entry may come back as an object instead of a list.
func PhotobankImages(resp Response) []PhotobankImage {
	raw, ok := dig(resp, "alibaba_icbu_photobank_list_response", "pagination_query_list", "list", "photobank_image_do")
	if !ok {
		return nil
	}

	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	}

	images := make([]PhotobankImage, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		images = append(images, PhotobankImage{
			ID:  types.Stringify(m["id"]),
			URL: types.Stringify(m["url"]),
		})
	}
	return images
}

// ListImageURLs returns the URLs of the first photobank page.
func (s *Service) ListImageURLs(ctx context.Context, token string) ([]string, error) {
	resp, err := s.ListImages(ctx, token, ListImagesOptions{})
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0)
	for _, img := range PhotobankImages(resp) {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	return urls, nil
}

// GetRawImage fetches the original file of a photobank image (base64).
func (s *Service) GetRawImage(ctx context.Context, token, imageName string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.rawimage.get", token, map[string]any{
		"image_name": imageName,
	}, "POST")
}

// ListImageGroups lists photobank groups, optionally below groupID.
func (s *Service) ListImageGroups(ctx context.Context, token, groupID string, extra map[string]any) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.photobank.group.list", token, map[string]any{
		"id":            optional(groupID),
		"extra_context": optionalMap(extra),
	}, "POST")
}

// Photobank group operations.
const (
	GroupAdd    = "add"
	GroupRename = "rename"
	GroupDelete = "delete"
)

// OperateImageGroup adds, renames or deletes a photobank group.
func (s *Service) OperateImageGroup(ctx context.Context, token, operation, groupID, groupName string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.photobank.group.operate", token, map[string]any{
		"photo_group_operation_request": compact(map[string]any{
			"operation":  operation,
			"group_id":   optional(groupID),
			"group_name": optional(groupName),
		}),
	}, "POST")
}

// UploadImage uploads image bytes into the photobank.
func (s *Service) UploadImage(ctx context.Context, token, fileName string, image []byte, groupID string, extra map[string]any) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.photobank.upload", token, map[string]any{
		"file_name":     fileName,
		"image_bytes":   image,
		"group_id":      optional(groupID),
		"extra_context": optionalMap(extra),
	}, "POST")
}

// GenerateWhiteBackground asks the gateway for a white background variant
// of imageURL.
func (s *Service) GenerateWhiteBackground(ctx context.Context, token, imageURL, displayName string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.white.background.image.generate", token, map[string]any{
		"product_top_white_background_img_request": map[string]any{
			"imageUrl":    imageURL,
			"displayName": displayName,
		},
	}, "POST")
}

// =============================================================================
// VIDEO
// =============================================================================

// Video relation types.
const (
	VideoMain   = "videoId"
	VideoDetail = "detailVideoId"
)

// UploadVideo registers a video by path.
func (s *Service) UploadVideo(ctx context.Context, token, videoPath, videoName, coverURL string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.video.upload", token, map[string]any{
		"video_path": videoPath,
		"video_name": videoName,
		"cover_url":  optional(coverURL),
	}, "POST")
}

// QueryVideos searches the seller's videos by title or id.
func (s *Service) QueryVideos(ctx context.Context, token, title, videoID string, page, pageSize int) (Response, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return s.caller.Call(ctx, "alibaba.icbu.video.query", token, map[string]any{
		"title":        optional(title),
		"id":           optional(videoID),
		"current_page": page,
		"page_size":    pageSize,
	}, "POST")
}

// ListVideoProducts lists product ids related to a video. kind is
// VideoMain or VideoDetail.
func (s *Service) ListVideoProducts(ctx context.Context, token, videoID, kind string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.video.relation.product.list", token, map[string]any{
		"video_id": videoID,
		"type":     kind,
	}, "POST")
}

// GetVideoProductDetail returns relation details for a video and product.
func (s *Service) GetVideoProductDetail(ctx context.Context, token, videoID, productID string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.video.relation.product.detail", token, map[string]any{
		"video_id":   optional(videoID),
		"product_id": optional(productID),
	}, "POST")
}

// SetMainVideo makes videoID the main video of productID.
func (s *Service) SetMainVideo(ctx context.Context, token, videoID, productID string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.video.relation.product.main", token, map[string]any{
		"video_id":   videoID,
		"product_id": productID,
	}, "POST")
}

// =============================================================================
// CATEGORY / SKU
// =============================================================================

// GetProductGroups lists the seller's product groups.
func (s *Service) GetProductGroups(ctx context.Context, token string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.product.group.get", token, nil, "POST")
}

// GetCategories lists the child categories of parentID ("0" for roots).
func (s *Service) GetCategories(ctx context.Context, token, parentID string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.category.get", token, map[string]any{
		"parentId": withDefault(parentID, "0"),
	}, "POST")
}

// GetSKUAttributes returns the SKU level attributes of a category.
func (s *Service) GetSKUAttributes(ctx context.Context, token, catID string) (Response, error) {
	return s.caller.Call(ctx, "alibaba.icbu.category.level.attr.get", token, map[string]any{
		"catId": catID,
	}, "POST")
}
