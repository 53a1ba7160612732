package protocol

// Frame type discriminators. Every frame is one UTF-8 JSON object with a
// "type" field; the remaining fields depend on the type.
const (
	// Client → Server
	TypeAuth         = "auth"
	TypeList         = "list"
	TypeCreate       = "create"
	TypeAttach       = "attach"
	TypeDetach       = "detach"
	TypeInput        = "input"
	TypeResize       = "resize"
	TypeKill         = "kill"
	TypeRename       = "rename"
	TypeClipboardSet = "clipboard-set"
	TypeClipboardGet = "clipboard-get"
	TypeListClients  = "list-clients"
	TypeKickClient   = "kick-client"

	// Server → Client
	TypeAuthRequired       = "auth-required"
	TypeAuthSuccess        = "auth-success"
	TypeAuthFailed         = "auth-failed"
	TypeSessions           = "sessions"
	TypeCreated            = "created"
	TypeAttached           = "attached"
	TypeDetached           = "detached"
	TypeKilled             = "killed"
	TypeRenamed            = "renamed"
	TypeExited             = "exited"
	TypeOutput             = "output"
	TypeError              = "error"
	TypeClipboardUpdate    = "clipboard-update"
	TypeClipboardContent   = "clipboard-content"
	TypeClipboardSetOK     = "clipboard-set-ok"
	TypeClientConnected    = "client-connected"
	TypeClientDisconnected = "client-disconnected"
	TypeClients            = "clients"
	TypeClientKicked       = "client-kicked"
)

// ClientMessage is a decoded client → server frame.
type ClientMessage interface {
	clientMessage()
}

// --- Client → Server messages ---

type Auth struct {
	Password string `json:"password"`
}

type List struct{}

type Create struct {
	Name string `json:"name"`
}

type Attach struct {
	Name string `json:"name"`
}

type Detach struct{}

type Input struct {
	Data string `json:"data"`
}

// Resize carries the client's desired terminal dimensions. Cols and Rows
// decode as JSON numbers; frames with non-numeric values fail the payload
// decode and are dropped by the connection layer.
type Resize struct {
	Cols float64 `json:"cols"`
	Rows float64 `json:"rows"`
}

type Kill struct {
	Name string `json:"name"`
}

type Rename struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type ClipboardSet struct {
	Content string `json:"content"`
}

type ClipboardGet struct{}

type ListClients struct{}

type KickClient struct {
	ClientID int `json:"clientId"`
}

func (*Auth) clientMessage()         {}
func (*List) clientMessage()         {}
func (*Create) clientMessage()       {}
func (*Attach) clientMessage()       {}
func (*Detach) clientMessage()       {}
func (*Input) clientMessage()        {}
func (*Resize) clientMessage()       {}
func (*Kill) clientMessage()         {}
func (*Rename) clientMessage()       {}
func (*ClipboardSet) clientMessage() {}
func (*ClipboardGet) clientMessage() {}
func (*ListClients) clientMessage()  {}
func (*KickClient) clientMessage()   {}

// --- Server → Client messages ---

// SessionInfo is one entry in a "sessions" frame. CreatedAt is
// milliseconds since the Unix epoch.
type SessionInfo struct {
	Name        string `json:"name"`
	ClientCount int    `json:"clientCount"`
	CreatedAt   int64  `json:"createdAt"`
	IsConnected bool   `json:"isConnected"`
}

// ClientEntry is one entry in a "clients" frame. ID is the position in
// the server's connection list at the moment of the call; it is not
// stable across calls.
type ClientEntry struct {
	ID          int    `json:"id"`
	IP          string `json:"ip"`
	ConnectedAt int64  `json:"connectedAt"`
	Session     string `json:"session"`
}

type AuthRequired struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

func NewAuthRequired(required bool) *AuthRequired {
	return &AuthRequired{Type: TypeAuthRequired, Required: required}
}

type AuthSuccess struct {
	Type string `json:"type"`
}

func NewAuthSuccess() *AuthSuccess {
	return &AuthSuccess{Type: TypeAuthSuccess}
}

type AuthFailed struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAuthFailed(message string) *AuthFailed {
	return &AuthFailed{Type: TypeAuthFailed, Message: message}
}

type Sessions struct {
	Type string        `json:"type"`
	List []SessionInfo `json:"list"`
}

func NewSessions(list []SessionInfo) *Sessions {
	return &Sessions{Type: TypeSessions, List: list}
}

type Created struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func NewCreated(name string) *Created {
	return &Created{Type: TypeCreated, Name: name}
}

type Attached struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func NewAttached(name string) *Attached {
	return &Attached{Type: TypeAttached, Name: name}
}

type Detached struct {
	Type string `json:"type"`
}

func NewDetached() *Detached {
	return &Detached{Type: TypeDetached}
}

type Killed struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func NewKilled(name string) *Killed {
	return &Killed{Type: TypeKilled, Name: name}
}

type Renamed struct {
	Type    string `json:"type"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

func NewRenamed(oldName, newName string) *Renamed {
	return &Renamed{Type: TypeRenamed, OldName: oldName, NewName: newName}
}

type Exited struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal"`
}

func NewExited(name string, exitCode int, signal string) *Exited {
	return &Exited{Type: TypeExited, Name: name, ExitCode: exitCode, Signal: signal}
}

type Output struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewOutput wraps raw PTY bytes. Invalid UTF-8 is replaced during JSON
// encoding; clients must tolerate arbitrary chunk splits.
func NewOutput(data []byte) *Output {
	return &Output{Type: TypeOutput, Data: string(data)}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) *Error {
	return &Error{Type: TypeError, Message: message}
}

type ClipboardUpdate struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewClipboardUpdate(content string) *ClipboardUpdate {
	return &ClipboardUpdate{Type: TypeClipboardUpdate, Content: content}
}

type ClipboardContent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func NewClipboardContent(content string) *ClipboardContent {
	return &ClipboardContent{Type: TypeClipboardContent, Content: content}
}

type ClipboardSetOK struct {
	Type string `json:"type"`
}

func NewClipboardSetOK() *ClipboardSetOK {
	return &ClipboardSetOK{Type: TypeClipboardSetOK}
}

type ClientConnected struct {
	Type        string `json:"type"`
	ClientIP    string `json:"clientIP"`
	ClientCount int    `json:"clientCount"`
	Timestamp   int64  `json:"timestamp"`
}

func NewClientConnected(ip string, count int, timestamp int64) *ClientConnected {
	return &ClientConnected{Type: TypeClientConnected, ClientIP: ip, ClientCount: count, Timestamp: timestamp}
}

type ClientDisconnected struct {
	Type        string `json:"type"`
	ClientIP    string `json:"clientIP"`
	ClientCount int    `json:"clientCount"`
	Timestamp   int64  `json:"timestamp"`
}

func NewClientDisconnected(ip string, count int, timestamp int64) *ClientDisconnected {
	return &ClientDisconnected{Type: TypeClientDisconnected, ClientIP: ip, ClientCount: count, Timestamp: timestamp}
}

type Clients struct {
	Type string        `json:"type"`
	List []ClientEntry `json:"list"`
}

func NewClients(list []ClientEntry) *Clients {
	return &Clients{Type: TypeClients, List: list}
}

type ClientKicked struct {
	Type     string `json:"type"`
	ClientID int    `json:"clientId"`
}

func NewClientKicked(clientID int) *ClientKicked {
	return &ClientKicked{Type: TypeClientKicked, ClientID: clientID}
}
