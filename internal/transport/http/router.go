package httpserver

import (
	"github.com/labstack/echo/v4"

	"github.com/akarpov91/vending_machine/internal/handlers"
	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
)

type Deps struct {
	Auth    *authmw.Middleware
	User    *handlers.AuthHandler
	Product *handlers.ProductHandler
	Vending *handlers.VendingHandler
	Search  *handlers.SearchHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	e.POST("/register", d.User.Register)
	e.POST("/login", d.User.Login)
	e.POST("/logout/force", d.User.ForceLogoutAll)

	authed := e.Group("", d.Auth.RequireAuth)

	authed.POST("/logout", d.User.Logout)
	authed.POST("/logout/all", d.User.LogoutAll)

	authed.GET("/products", d.Product.GetProducts)
	authed.POST("/products", d.Product.CreateProduct, authmw.RequireSeller)
	authed.GET("/products/search", d.Search.Search)
	authed.GET("/products/:id", d.Product.GetProduct)
	authed.PUT("/products/:id", d.Product.UpdateProduct, authmw.RequireSeller)
	authed.DELETE("/products/:id", d.Product.DeleteProduct, authmw.RequireSeller)

	buyer := authed.Group("", authmw.RequireBuyer)
	buyer.GET("/balance", d.Vending.Balance)
	buyer.POST("/deposit", d.Vending.Deposit)
	buyer.POST("/buy", d.Vending.Buy)
	buyer.POST("/reset", d.Vending.Reset)
}
