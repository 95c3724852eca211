package models

// Catalog entities exist here only as reference targets for live sessions.
// Their CRUD surface is owned by the rest of the platform.

// Course is a catalog entry a COURSE session points at.
type Course struct {
	BaseModel

	Name string `gorm:"type:varchar(255);not null" json:"name"`
}

// Project is a catalog entry a PROJECT session points at.
type Project struct {
	BaseModel

	Name string `gorm:"type:varchar(255);not null" json:"name"`
}

// Internship is a catalog entry an INTERNSHIP session points at.
type Internship struct {
	BaseModel

	Name string `gorm:"type:varchar(255);not null" json:"name"`
}
