package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"strings"
	"time"
	"unicode"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/platform/storage"
)

const avatarSize = 512

var avatarPalette = []color.NRGBA{
	{R: 0x1E, G: 0x88, B: 0xE5, A: 0xFF},
	{R: 0x43, G: 0xA0, B: 0x47, A: 0xFF},
	{R: 0xE5, G: 0x39, B: 0x35, A: 0xFF},
	{R: 0x8E, G: 0x24, B: 0xAA, A: 0xFF},
	{R: 0xFB, G: 0x8C, B: 0x00, A: 0xFF},
	{R: 0x00, G: 0x89, B: 0x7B, A: 0xFF},
	{R: 0x3F, G: 0x51, B: 0xB5, A: 0xFF},
	{R: 0x6D, G: 0x4C, B: 0x41, A: 0xFF},
}

type AvatarService interface {
	// Generate renders an initials avatar, stores it and returns its public URL.
	Generate(ctx context.Context, u *types.User) (string, error)
	// FromUpload crops, resizes and circle-clips an uploaded image, stores it and returns its URL.
	FromUpload(ctx context.Context, u *types.User, raw []byte) (string, error)
}

type avatarService struct {
	log      *logger.Logger
	store    storage.ObjectStore
	fontFace font.Face
}

func NewAvatarService(log *logger.Logger, store storage.ObjectStore) (AvatarService, error) {
	face, err := goFontFace(206)
	if err != nil {
		return nil, fmt.Errorf("could not load avatar font: %w", err)
	}
	return &avatarService{
		log:      log.With("service", "AvatarService"),
		store:    store,
		fontFace: face,
	}, nil
}

func goFontFace(size float64) (font.Face, error) {
	parsed, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsed, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

func (as *avatarService) Generate(ctx context.Context, u *types.User) (string, error) {
	buf, err := as.render(u)
	if err != nil {
		return "", err
	}
	return as.upload(ctx, u, buf)
}

func (as *avatarService) FromUpload(ctx context.Context, u *types.User, raw []byte) (string, error) {
	processed, err := processUploadedAvatar(raw, avatarSize)
	if err != nil {
		return "", err
	}
	return as.upload(ctx, u, processed)
}

func (as *avatarService) render(u *types.User) (bytes.Buffer, error) {
	dc := gg.NewContext(avatarSize, avatarSize)
	dc.DrawCircle(avatarSize/2, avatarSize/2, avatarSize/2)
	dc.Clip()

	dc.SetColor(avatarColor(u.ID.String()))
	dc.DrawRectangle(0, 0, avatarSize, avatarSize)
	dc.Fill()

	initials := computeInitials(u.Name, u.Surname, u.Login)
	dc.SetFontFace(as.fontFace)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(initials, avatarSize/2, avatarSize/2, 0.5, 0.35)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf, nil
}

// upload stores a new versioned object and drops the previous one on a best-effort basis.
func (as *avatarService) upload(ctx context.Context, u *types.User, buf bytes.Buffer) (string, error) {
	key := fmt.Sprintf("%s/%d.png", u.ID.String(), time.Now().UnixNano())
	if err := as.store.Put(ctx, storage.CategoryAvatar, key, bytes.NewReader(buf.Bytes()), "image/png"); err != nil {
		return "", fmt.Errorf("failed to upload user avatar: %w", err)
	}
	if oldKey := as.keyFromURL(u.Img); oldKey != "" && oldKey != key {
		if err := as.store.Delete(ctx, storage.CategoryAvatar, oldKey); err != nil {
			as.log.Warn("failed to delete old avatar (ignored)", "oldKey", oldKey, "error", err)
		}
	}
	return as.store.PublicURL(storage.CategoryAvatar, key), nil
}

func (as *avatarService) keyFromURL(url string) string {
	prefix := as.store.PublicURL(storage.CategoryAvatar, "")
	if url == "" || prefix == "" || !strings.HasPrefix(url, prefix) {
		return ""
	}
	return strings.TrimLeft(strings.TrimPrefix(url, prefix), "/")
}

func processUploadedAvatar(raw []byte, size int) (bytes.Buffer, error) {
	var out bytes.Buffer

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return out, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2

	cropRect := image.Rect(0, 0, side, side)
	cropped := image.NewRGBA(cropRect)
	draw.Draw(cropped, cropRect, img, image.Point{X: x0, Y: y0}, draw.Src)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), draw.Over, nil)

	dc := gg.NewContext(size, size)
	dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
	dc.Clip()
	dc.DrawImage(dst, 0, 0)

	if err := dc.EncodePNG(&out); err != nil {
		return out, fmt.Errorf("encode png: %w", err)
	}
	return out, nil
}

func avatarColor(seed string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return avatarPalette[int(h.Sum32()%uint32(len(avatarPalette)))]
}

// computeInitials takes the first letter of name and surname, falling back to the login.
func computeInitials(name, surname, login string) string {
	var out []rune
	for _, part := range []string{name, surname} {
		for _, r := range strings.TrimSpace(part) {
			out = append(out, unicode.ToUpper(r))
			break
		}
	}
	if len(out) == 0 {
		for _, r := range strings.TrimSpace(login) {
			out = append(out, unicode.ToUpper(r))
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}
