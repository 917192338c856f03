package provider

type AccountType string

const (
	AccountTypeMojang    AccountType = "mojang"
	AccountTypeMicrosoft AccountType = "microsoft"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeMojang || t == AccountTypeMicrosoft
}

// Profile is the game profile bound to an access token. ID is the short
// (undashed) uuid form.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Legacy    bool   `json:"legacy,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
}

type MojangLogin struct {
	AccessToken     string   `json:"accessToken"`
	ClientToken     string   `json:"clientToken"`
	SelectedProfile *Profile `json:"selectedProfile"`
}

type SecurityQuestion struct {
	Answer struct {
		ID int `json:"id"`
	} `json:"answer"`
	Question struct {
		ID       int    `json:"id"`
		Question string `json:"question"`
	} `json:"question"`
}

type SecurityAnswer struct {
	ID     int    `json:"id"`
	Answer string `json:"answer"`
}

type Challenges struct {
	NeedSolving bool               `json:"needSolving"`
	Questions   []SecurityQuestion `json:"questions"`
}

// XboxInfo carries identifiers from the intermediate hops of the Microsoft
// chain that the final Minecraft token response does not include.
type XboxInfo struct {
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type MicrosoftLogin struct {
	MinecraftAccessToken string
	ExpiresIn            int64
	Xbox                 XboxInfo
}
