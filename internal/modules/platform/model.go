// README: Platform registry entities (upstream order channels and downstream carriers).
package platform

type Type string

const (
	TypeUpstream   Type = "upstream"
	TypeDownstream Type = "downstream"
)

func (t Type) Valid() bool {
	return t == TypeUpstream || t == TypeDownstream
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Platform struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Status   Status `json:"status"`
	Priority int    `json:"priority"`
	APIURL   string `json:"apiUrl"`
}

func (p Platform) Active() bool {
	return p.Status == StatusActive
}

// Seed is the registry shipped with a fresh deployment.
func Seed() []Platform {
	return []Platform{
		{ID: "1", Code: "meituan", Name: "Meituan Waimai", Type: TypeUpstream, Status: StatusActive, Priority: 10, APIURL: "https://api.meituan.com"},
		{ID: "2", Code: "taobao", Name: "Taobao / Eleme", Type: TypeUpstream, Status: StatusActive, Priority: 9, APIURL: "https://eco.taobao.com"},
		{ID: "3", Code: "douyin", Name: "Douyin Waimai", Type: TypeUpstream, Status: StatusActive, Priority: 8, APIURL: "https://open.douyin.com"},
		{ID: "4", Code: "dada", Name: "Dada Delivery", Type: TypeDownstream, Status: StatusActive, Priority: 10, APIURL: "https://newopen.imdada.cn"},
		{ID: "5", Code: "sf", Name: "SF Intra-city", Type: TypeDownstream, Status: StatusActive, Priority: 9, APIURL: "https://open.sf-express.com"},
		{ID: "6", Code: "shansong", Name: "Shansong", Type: TypeDownstream, Status: StatusActive, Priority: 8, APIURL: "https://open.ishansong.com"},
	}
}
