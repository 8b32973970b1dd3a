package web

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// 前後の空白を除去してから検証するため、gin の binding タグではなく validate タグを使う
var validate = validator.New(validator.WithRequiredStructEnabled())

// registerInput は POST /register のフォーム入力です。
type registerInput struct {
	Email     string `form:"email" validate:"required,email,max=254"`
	Password  string `form:"password" validate:"required"`
	FirstName string `form:"firstName" validate:"max=100"`
	LastName  string `form:"lastName" validate:"max=100"`
}

// loginInput は POST /login のフォーム入力です。
type loginInput struct {
	Email    string `form:"email" validate:"required"`
	Password string `form:"password" validate:"required"`
}

func bindRegister(c *gin.Context) (registerInput, error) {
	var in registerInput
	if err := c.ShouldBind(&in); err != nil {
		return in, err
	}
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	return in, validate.Struct(in)
}

func bindLogin(c *gin.Context) (loginInput, error) {
	var in loginInput
	if err := c.ShouldBind(&in); err != nil {
		return in, err
	}
	in.Email = strings.TrimSpace(in.Email)
	return in, validate.Struct(in)
}

// registerBindMessage は登録フォームの検証エラーを利用者向けの文言に変換します。
func registerBindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return msgGeneric
	}
	switch verrs[0].Field() {
	case "Email":
		return "Please enter a valid email address."
	case "Password":
		return "Please enter a password."
	default:
		return "Names must be 100 characters or fewer."
	}
}
