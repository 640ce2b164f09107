package activity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAction reports an action name outside the supported set.
	ErrUnknownAction = errors.New("unknown activity action")
	// ErrUnknownResource reports a resource type outside the supported set.
	ErrUnknownResource = errors.New("unknown activity resource type")
)

// Action is the kind of operation an actor performed.
type Action string

const (
	ActionCreate         Action = "create"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
	ActionView           Action = "view"
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionRegister       Action = "register"
	ActionPasswordReset  Action = "password_reset"
	ActionOTPRequest     Action = "otp_request"
	ActionOTPVerify      Action = "otp_verify"
	ActionDownload       Action = "download"
	ActionUpload         Action = "upload"
	ActionPurchase       Action = "purchase"
	ActionSearch         Action = "search"
	ActionExport         Action = "export"
	ActionImport         Action = "import"
	ActionSendMessage    Action = "send_message"
	ActionSubmitQuiz     Action = "submit_quiz"
	ActionSettingsChange Action = "settings_change"
)

// ResourceType is the kind of entity an activity touched.
type ResourceType string

const (
	ResourceBook               ResourceType = "book"
	ResourceAuthor             ResourceType = "author"
	ResourcePublication        ResourceType = "publication"
	ResourceTranslator         ResourceType = "translator"
	ResourceCategory           ResourceType = "category"
	ResourceUser               ResourceType = "user"
	ResourceOrder              ResourceType = "order"
	ResourceCart               ResourceType = "cart"
	ResourceMarketplaceListing ResourceType = "marketplace_listing"
	ResourceMessage            ResourceType = "message"
	ResourceConversation       ResourceType = "conversation"
	ResourceQuiz               ResourceType = "quiz"
	ResourceQuizAttempt        ResourceType = "quiz_attempt"
	ResourceSetting            ResourceType = "setting"
	ResourceAuth               ResourceType = "auth"
	ResourceFile               ResourceType = "file"
	ResourceSystem             ResourceType = "system"
)

var allActions = []Action{
	ActionCreate,
	ActionUpdate,
	ActionDelete,
	ActionView,
	ActionLogin,
	ActionLogout,
	ActionRegister,
	ActionPasswordReset,
	ActionOTPRequest,
	ActionOTPVerify,
	ActionDownload,
	ActionUpload,
	ActionPurchase,
	ActionSearch,
	ActionExport,
	ActionImport,
	ActionSendMessage,
	ActionSubmitQuiz,
	ActionSettingsChange,
}

var allResources = []ResourceType{
	ResourceBook,
	ResourceAuthor,
	ResourcePublication,
	ResourceTranslator,
	ResourceCategory,
	ResourceUser,
	ResourceOrder,
	ResourceCart,
	ResourceMarketplaceListing,
	ResourceMessage,
	ResourceConversation,
	ResourceQuiz,
	ResourceQuizAttempt,
	ResourceSetting,
	ResourceAuth,
	ResourceFile,
	ResourceSystem,
}

var actionSet = func() map[Action]struct{} {
	set := make(map[Action]struct{}, len(allActions))
	for _, a := range allActions {
		set[a] = struct{}{}
	}
	return set
}()

var resourceSet = func() map[ResourceType]struct{} {
	set := make(map[ResourceType]struct{}, len(allResources))
	for _, r := range allResources {
		set[r] = struct{}{}
	}
	return set
}()

// Actions returns every supported action in declaration order.
func Actions() []Action {
	return append([]Action(nil), allActions...)
}

// ResourceTypes returns every supported resource type in declaration order.
func ResourceTypes() []ResourceType {
	return append([]ResourceType(nil), allResources...)
}

// ParseAction resolves a caller supplied action name. Matching ignores case
// and treats '-' and spaces as '_'.
func ParseAction(value string) (Action, error) {
	action := Action(canonicalName(value))
	if _, ok := actionSet[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
	return action, nil
}

// ParseResourceType resolves a caller supplied resource type name using the
// same matching rules as ParseAction.
func ParseResourceType(value string) (ResourceType, error) {
	resource := ResourceType(canonicalName(value))
	if _, ok := resourceSet[resource]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, value)
	}
	return resource, nil
}

func canonicalName(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return '_'
		}
		return r
	}, trimmed)
}
