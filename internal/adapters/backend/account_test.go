package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func registration() Registration {
	return Registration{
		FirstNames: "Ana",
		LastNames:  "Rojas",
		Email:      "ana@example.com",
		Phone:      "555-0100",
		Username:   "ana",
		Password:   "s3cret",
	}
}

func TestRegister(t *testing.T) {
	Convey("Given a backend that creates accounts", t, func() {
		var got map[string]string
		var path string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := newClient(srv.URL + "/api")

		Convey("When a complete registration is sent", func() {
			err := client.Register(context.Background(), registration())

			Convey("Then it succeeds with the backend's field names", func() {
				So(err, ShouldBeNil)
				So(path, ShouldEqual, "/api/Cliente/CrearCliente")
				So(got["nombres"], ShouldEqual, "Ana")
				So(got["apellidos"], ShouldEqual, "Rojas")
				So(got["correo"], ShouldEqual, "ana@example.com")
				So(got["telefono"], ShouldEqual, "555-0100")
				So(got["username"], ShouldEqual, "ana")
			})
		})

		Convey("When a field is missing", func() {
			reg := registration()
			reg.Phone = " "
			err := client.Register(context.Background(), reg)

			Convey("Then nothing is sent", func() {
				So(errors.Is(err, ErrIncompleteRegistration), ShouldBeTrue)
				So(path, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a backend that refuses a duplicate username", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, errorBody{Error: "username taken"})
		}))
		defer srv.Close()

		err := newClient(srv.URL).Register(context.Background(), registration())

		Convey("Then a client error names the operation", func() {
			So(errors.Is(err, ErrClientError), ShouldBeTrue)
			So(err.Error(), ShouldStartWith, "register failed")
			So(err.Error(), ShouldContainSubstring, "username taken")
		})
	})
}

func TestLogin(t *testing.T) {
	Convey("Given a backend that knows one account", t, func() {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			var c Credentials
			_ = json.NewDecoder(r.Body).Decode(&c)
			if r.URL.Path != "/Usuarios/ValidarLogin" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if c.Username == "ana" && c.Password == "s3cret" {
				writeJSON(w, http.StatusOK, map[string]string{"username": "ana"})
				return
			}
			writeJSON(w, http.StatusOK, nil)
		}))
		defer srv.Close()

		client := newClient(srv.URL)

		Convey("Revalidate without credentials fails before any request", func() {
			So(errors.Is(client.Revalidate(context.Background()), ErrNoCredentials), ShouldBeTrue)
			So(hits.Load(), ShouldEqual, 0)
		})

		Convey("When the credentials are valid", func() {
			err := client.Login(context.Background(), Credentials{Username: "ana", Password: "s3cret"})

			Convey("Then login succeeds and can be repeated", func() {
				So(err, ShouldBeNil)
				So(client.Revalidate(context.Background()), ShouldBeNil)
				So(hits.Load(), ShouldEqual, 2)
			})
		})

		Convey("When the backend answers null", func() {
			err := client.Login(context.Background(), Credentials{Username: "ana", Password: "wrong"})

			Convey("Then the credentials are rejected and not kept", func() {
				So(errors.Is(err, ErrUnauthorized), ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "login failed")
				So(errors.Is(client.Revalidate(context.Background()), ErrNoCredentials), ShouldBeTrue)
			})
		})
	})

	Convey("Given configured credentials and a backend that answers 401", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "locked"})
		}))
		defer srv.Close()

		err := newClient(srv.URL, WithCredentials("ana", "s3cret")).Revalidate(context.Background())

		Convey("Then Revalidate reports the rejection", func() {
			So(errors.Is(err, ErrUnauthorized), ShouldBeTrue)
			var syncErr *SyncError
			So(errors.As(err, &syncErr), ShouldBeTrue)
			So(syncErr.Retryable(), ShouldBeFalse)
		})
	})
}
