package store

// GORM models backing the local sqlite database. The user table never has a
// password column, and the private key is only ever written sealed.
type userModel struct {
	UID          string `gorm:"primaryKey"`
	Username     string `gorm:"not null"`
	Email        string `gorm:"not null"`
	ProfilePicTn string
	AccessToken  string
	PrivateKey   []byte // crypto.Seal envelope, empty if no keypair yet
}

func (userModel) TableName() string { return "user" }

type contactModel struct {
	UID       string `gorm:"primaryKey"`
	PublicKey string `gorm:"not null"`
}

func (contactModel) TableName() string { return "contact" }

type chatModel struct {
	UID          string `gorm:"primaryKey"`
	ContactUID   string `gorm:"uniqueIndex;not null"`
	Username     string `gorm:"not null"`
	ProfilePicTn string
	PublicKey    string
	LastMessage  string
	LastActive   string
}

func (chatModel) TableName() string { return "chat" }

type messageModel struct {
	MID       string `gorm:"column:mid;primaryKey"`
	ChatUID   string `gorm:"index;not null"`
	FromUID   string `gorm:"not null"`
	ToUID     string `gorm:"not null"`
	Type      string `gorm:"not null"`
	Timestamp string `gorm:"index;not null"`
	Content   string
	Status    string `gorm:"not null"`
}

func (messageModel) TableName() string { return "message" }
