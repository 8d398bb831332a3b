package model

import "time"

// Note はユーザーが作成したノートを表す。
// OwnerIDのユーザーのみが参照・更新・削除できる。
type Note struct {
	ID        string
	OwnerID   string
	Title     string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotePatch はノートの部分更新内容を表す。
// nilのフィールドは変更しない。
type NotePatch struct {
	Title *string
	Body  *string
}

// IsEmpty は更新対象のフィールドが1つも指定されていないかどうかを返す。
func (p NotePatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil
}
