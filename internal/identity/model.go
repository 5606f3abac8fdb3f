package identity

// Mapping links a pseudonymous author id back to the real platform id.
// A row exists only while the user has opted in to having their real
// identity shown; absence means the author stays pseudonymous everywhere.
type Mapping struct {
	AuthorID     string `gorm:"column:author_id;primaryKey;size:128;not null"`
	RealAuthorID string `gorm:"column:real_author_id;size:32;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Mapping) TableName() string {
	return "identity"
}
