package handlers

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	authmw "github.com/akarpov91/vending_machine/internal/middleware/auth"
	"github.com/akarpov91/vending_machine/internal/models"
)

func TestBalance(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, 45)

	rec, c := env.doJSONRequest(http.MethodGet, "/balance", nil)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Balance(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "buyer1", body["username"])
	require.EqualValues(t, 45, body["deposit"])
}

func TestDepositValidCoins(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, 0)

	expected := 0
	for _, coin := range []int{5, 10, 20, 50, 100} {
		rec, c := env.doJSONRequest(http.MethodPost, "/deposit", map[string]int{"coin": coin})
		env.asUser(c, buyer)
		require.NoError(t, env.Vending.Deposit(c))
		require.Equal(t, http.StatusOK, rec.Code)

		expected += coin
		require.EqualValues(t, expected, decodeBody(t, rec)["current_deposit"])
	}
}

func TestDepositInvalidCoin(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, 0)

	for _, coin := range []int{1, 2, 25, 200, 0, -5} {
		rec, c := env.doJSONRequest(http.MethodPost, "/deposit", map[string]int{"coin": coin})
		env.asUser(c, buyer)
		require.NoError(t, env.Vending.Deposit(c))
		require.Equal(t, http.StatusBadRequest, rec.Code, "coin %d", coin)
	}
}

func TestDepositLimit(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, models.MaxDeposit-50)

	// Exactly at the limit is allowed.
	rec, c := env.doJSONRequest(http.MethodPost, "/deposit", map[string]int{"coin": 50})
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Deposit(c))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, models.MaxDeposit, decodeBody(t, rec)["current_deposit"])

	// One more coin crosses it.
	rec, c = env.doJSONRequest(http.MethodPost, "/deposit", map[string]int{"coin": 5})
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Deposit(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var user models.User
	require.NoError(t, env.DB.First(&user, buyer.ID).Error)
	require.Equal(t, models.MaxDeposit, user.Deposit)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, 85)

	rec, c := env.doJSONRequest(http.MethodPost, "/reset", nil)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Reset(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.EqualValues(t, 85, body["previous_deposit"])
	require.EqualValues(t, 0, body["current_deposit"])

	var user models.User
	require.NoError(t, env.DB.First(&user, buyer.ID).Error)
	require.Equal(t, 0, user.Deposit)
}

func TestBuyReturnsAllBalanceAsChange(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 65, 10)
	buyer := env.createUser("buyer1", models.RoleBuyer, 100)

	payload := map[string]any{"product_id": product.ID, "amount": 1}
	rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Buy(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.EqualValues(t, 65, body["total_spent"])
	require.Equal(t, "cola", body["product_purchased"])
	require.EqualValues(t, 1, body["amount_purchased"])
	require.Equal(t, []interface{}{float64(20), float64(10), float64(5)}, body["change"])

	var user models.User
	require.NoError(t, env.DB.First(&user, buyer.ID).Error)
	require.Equal(t, 0, user.Deposit, "deposit resets entirely, nothing is retained")

	var stocked models.Product
	require.NoError(t, env.DB.First(&stocked, product.ID).Error)
	require.Equal(t, 9, stocked.AmountAvailable)
}

func TestBuyExactAmountNoChange(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 50, 10)
	buyer := env.createUser("buyer1", models.RoleBuyer, 100)

	payload := map[string]any{"product_id": product.ID, "amount": 2}
	rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Buy(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.EqualValues(t, 100, body["total_spent"])
	require.Empty(t, body["change"])
}

func TestBuyProductNotFound(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.createUser("buyer1", models.RoleBuyer, 100)

	payload := map[string]any{"product_id": 999, "amount": 1}
	rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Buy(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuyInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 65, 10)
	buyer := env.createUser("buyer1", models.RoleBuyer, 50)

	payload := map[string]any{"product_id": product.ID, "amount": 1}
	rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Buy(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "insufficient funds")

	// Nothing was debited.
	var stocked models.Product
	require.NoError(t, env.DB.First(&stocked, product.ID).Error)
	require.Equal(t, 10, stocked.AmountAvailable)

	var user models.User
	require.NoError(t, env.DB.First(&user, buyer.ID).Error)
	require.Equal(t, 50, user.Deposit)
}

func TestBuyStockCheckPrecedesFundsCheck(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 65, 1)
	buyer := env.createUser("buyer1", models.RoleBuyer, 0)

	// Both stock and funds are insufficient; stock wins.
	payload := map[string]any{"product_id": product.ID, "amount": 5}
	rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
	env.asUser(c, buyer)
	require.NoError(t, env.Vending.Buy(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "stock")
}

func TestBuyConcurrentPurchasesSerialize(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 5, 10)
	buyerA := env.createUser("buyerA", models.RoleBuyer, models.MaxDeposit)
	buyerB := env.createUser("buyerB", models.RoleBuyer, models.MaxDeposit)

	payload := map[string]any{"product_id": product.ID, "amount": 6}

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i, buyer := range []models.User{buyerA, buyerB} {
		wg.Add(1)
		go func(i int, buyer models.User) {
			defer wg.Done()
			rec, c := env.doJSONRequest(http.MethodPost, "/buy", payload)
			env.asUser(c, buyer)
			require.NoError(t, env.Vending.Buy(c))
			codes[i] = rec.Code
		}(i, buyer)
	}
	wg.Wait()

	// Stock 10, two requests for 6 each: exactly one can succeed.
	wins := 0
	for _, code := range codes {
		if code == http.StatusOK {
			wins++
		} else {
			require.Equal(t, http.StatusBadRequest, code)
		}
	}
	require.Equal(t, 1, wins)

	var stocked models.Product
	require.NoError(t, env.DB.First(&stocked, product.ID).Error)
	require.Equal(t, 4, stocked.AmountAvailable)
}

func TestDepositDuringPurchaseIsNotLost(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)
	product := env.createProduct(seller.ID, "cola", 65, 10)
	buyer := env.createUser("buyer1", models.RoleBuyer, 100)

	buyPayload := map[string]any{"product_id": product.ID, "amount": 1}
	depositPayload := map[string]any{"coin": 50}

	var buyRec, depositRec *httptest.ResponseRecorder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec, c := env.doJSONRequest(http.MethodPost, "/buy", buyPayload)
		env.asUser(c, buyer)
		require.NoError(t, env.Vending.Buy(c))
		buyRec = rec
	}()
	go func() {
		defer wg.Done()
		rec, c := env.doJSONRequest(http.MethodPost, "/deposit", depositPayload)
		env.asUser(c, buyer)
		require.NoError(t, env.Vending.Deposit(c))
		depositRec = rec
	}()
	wg.Wait()

	require.Equal(t, http.StatusOK, buyRec.Code)
	require.Equal(t, http.StatusOK, depositRec.Code)

	buyBody := decodeBody(t, buyRec)
	changeSum := 0
	for _, coin := range buyBody["change"].([]interface{}) {
		changeSum += int(coin.(float64))
	}

	var after models.User
	require.NoError(t, env.DB.First(&after, buyer.ID).Error)

	// Whichever request takes the user lock first, every cent is accounted
	// for: starting balance plus the coin equals spent plus change plus
	// whatever remains on deposit. A deposit landing between the purchase
	// reading the balance and zeroing it would break this.
	spent := int(buyBody["total_spent"].(float64))
	require.Equal(t, 100+50, spent+changeSum+after.Deposit)
	require.Contains(t, []int{0, 50}, after.Deposit)
}

func TestRoleGateBlocksSellerFromVending(t *testing.T) {
	env := newTestEnv(t)
	seller := env.createUser("seller1", models.RoleSeller, 0)

	gated := authmw.RequireBuyer(env.Vending.Balance)
	rec, c := env.doJSONRequest(http.MethodGet, "/balance", nil)
	env.asUser(c, seller)
	require.NoError(t, gated(c))
	require.Equal(t, http.StatusForbidden, rec.Code)
}
