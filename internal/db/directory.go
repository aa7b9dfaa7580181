package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"commentry/internal/models"
	"commentry/internal/services"
)

// Directory resolves pages and users for the comment service.
type Directory struct {
	db      *gorm.DB
	siteURL string
}

var _ services.Directory = (*Directory)(nil)

func NewDirectory(db *gorm.DB, siteURL string) *Directory {
	return &Directory{db: db, siteURL: strings.TrimSuffix(siteURL, "/")}
}

// Page returns the page with the given id.
func (d *Directory) Page(ctx context.Context, id uint) (*models.Page, error) {
	var p models.Page
	if err := d.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PageURL is the absolute address comment links point at.
func (d *Directory) PageURL(ctx context.Context, pageID uint) (string, error) {
	if _, err := d.Page(ctx, pageID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/p/%d", d.siteURL, pageID), nil
}

// PageField looks a page up by id, or by path when pageRef is not numeric.
func (d *Directory) PageField(ctx context.Context, pageRef, field string) (string, error) {
	var p models.Page
	q := d.db.WithContext(ctx)
	if id, err := strconv.ParseUint(pageRef, 10, 64); err == nil {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("path = ?", pageRef)
	}
	if err := q.Take(&p).Error; err != nil {
		return "", notFound(err)
	}
	value, ok := p.Fields[field]
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: page %s has no field %q", services.ErrNotFound, pageRef, field)
	}
	return value, nil
}

func (d *Directory) UserEmail(ctx context.Context, username string) (string, error) {
	var u models.User
	if err := d.db.WithContext(ctx).Where("username = ?", username).Take(&u).Error; err != nil {
		return "", notFound(err)
	}
	if u.Email == "" {
		return "", fmt.Errorf("%w: user %s has no email", services.ErrNotFound, username)
	}
	return u.Email, nil
}
