package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Response[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Body    T      `json:"body,omitempty"`
}

type ListBody[T any] struct {
	List  []T `json:"list"`
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// SuccessOne - для возврата одного объекта
func SuccessOne[T any](c echo.Context, code int, message string, data T) error {
	return c.JSON(code, Response[T]{Status: true, Message: message, Body: data})
}

// SuccessList - список без пагинации по страницам, только с лимитом выборки.
func SuccessList[T any](c echo.Context, message string, list []T, limit int) error {
	if list == nil {
		list = make([]T, 0)
	}
	return c.JSON(http.StatusOK, Response[ListBody[T]]{
		Status:  true,
		Message: message,
		Body:    ListBody[T]{List: list, Count: len(list), Limit: limit},
	})
}
